package tiles_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
	"github.com/geoforge/tilesmith/internal/tiles"
)

// fakeTool writes a shell script standing in for an external binary.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	return path
}

func TestExecToolchainCompileFailureCarriesStderr(t *testing.T) {
	tools := tiles.NewExecToolchain()
	tools.TippecanoeBin = fakeTool(t, "echo 'bad ring' >&2; exit 3")

	err := tools.Compile(context.Background(), tiles.CompileSpec{
		Output: "out.mbtiles", Layer: "rwy", Sources: []string{"a.geojson"},
	})
	if apperrors.CodeOf(err) != apperrors.CodeTileCompileFailed {
		t.Fatalf("expected TILE_COMPILE_FAILED, got %v", err)
	}
	if got := apperrors.Details(err)["stderr"]; got != "bad ring" {
		t.Fatalf("stderr not captured verbatim: %q", got)
	}
}

func TestExecToolchainMergeFailure(t *testing.T) {
	tools := tiles.NewExecToolchain()
	tools.TileJoinBin = fakeTool(t, "exit 1")

	err := tools.Merge(context.Background(), tiles.MergeSpec{
		Output: "out.mbtiles", Inputs: []string{"a.mbtiles", "b.mbtiles"},
	})
	if apperrors.CodeOf(err) != apperrors.CodeTileMergeFailed {
		t.Fatalf("expected TILE_MERGE_FAILED, got %v", err)
	}
}

func TestExecToolchainDecodeReturnsStdout(t *testing.T) {
	tools := tiles.NewExecToolchain()
	tools.TileDecodeBin = fakeTool(t, `printf '{"type":"FeatureCollection","features":[]}'`)

	out, err := tools.Decode(context.Background(), "pkg.mbtiles", "rwy")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != `{"type":"FeatureCollection","features":[]}` {
		t.Fatalf("unexpected stdout %q", out)
	}
}

func TestExecToolchainMissingBinary(t *testing.T) {
	tools := tiles.NewExecToolchain()
	tools.TippecanoeBin = filepath.Join(t.TempDir(), "missing")

	err := tools.Compile(context.Background(), tiles.CompileSpec{Output: "out.mbtiles", Layer: "rwy"})
	if apperrors.CodeOf(err) != apperrors.CodeTileCompileFailed {
		t.Fatalf("expected TILE_COMPILE_FAILED, got %v", err)
	}
}
