package tiles

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
)

// ExecToolchain runs the tippecanoe tool family as blocking subprocesses.
type ExecToolchain struct {
	// TippecanoeBin, TileJoinBin and TileDecodeBin are the tool binaries,
	// resolved through PATH when not absolute.
	TippecanoeBin string
	TileJoinBin   string
	TileDecodeBin string
}

// NewExecToolchain creates a toolchain with the default binary names.
func NewExecToolchain() *ExecToolchain {
	return &ExecToolchain{
		TippecanoeBin: "tippecanoe",
		TileJoinBin:   "tile-join",
		TileDecodeBin: "tippecanoe-decode",
	}
}

// Compile invokes tippecanoe over the spec's sources.
//
// The flag set matches the deterministic density policy: drop the densest
// tiles as needed and extend the zoom range if tiles are still over budget.
func (t *ExecToolchain) Compile(ctx context.Context, spec CompileSpec) error {
	args := []string{
		"-o", spec.Output,
		"--force",
		"--no-tile-compression",
		fmt.Sprintf("--minimum-zoom=%d", spec.MinZoom),
		fmt.Sprintf("--maximum-zoom=%d", spec.MaxZoom),
		"--drop-densest-as-needed",
		"--extend-zooms-if-still-dropping",
		"-l", spec.Layer,
	}
	args = append(args, spec.Sources...)
	if _, err := t.run(ctx, t.TippecanoeBin, args, apperrors.CodeTileCompileFailed, "tile compilation failed"); err != nil {
		return err
	}
	return nil
}

// Merge invokes tile-join over the spec's inputs.
func (t *ExecToolchain) Merge(ctx context.Context, spec MergeSpec) error {
	args := []string{"-o", spec.Output, "--force"}
	for _, name := range spec.ExcludeLayers {
		args = append(args, "-x", name)
	}
	args = append(args, spec.Inputs...)
	if _, err := t.run(ctx, t.TileJoinBin, args, apperrors.CodeTileMergeFailed, "tile merge failed"); err != nil {
		return err
	}
	return nil
}

// Decode invokes tippecanoe-decode for one layer, returning the GeoJSON
// document written to stdout.
func (t *ExecToolchain) Decode(ctx context.Context, pkg, layer string) ([]byte, error) {
	args := []string{"-l", layer, pkg}
	return t.run(ctx, t.TileDecodeBin, args, apperrors.CodeReconcileFailed, "tile decode failed")
}

// run executes one external tool, capturing stdout for the caller and
// stderr for diagnostics. A non-zero exit maps to the given error code with
// the captured stderr attached verbatim.
func (t *ExecToolchain) run(ctx context.Context, bin string, args []string, code apperrors.Code, message string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, apperrors.WrapWithMetadata(code, message, map[string]string{
			"tool":   bin,
			"stderr": strings.TrimSpace(stderr.String()),
		}, err)
	}
	return stdout.Bytes(), nil
}
