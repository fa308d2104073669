package tiles_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
	"github.com/geoforge/tilesmith/internal/testkit/tilefakes"
	"github.com/geoforge/tilesmith/internal/tiles"
)

func writeSource(t *testing.T, dir, name, feature string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	doc := `{"type":"FeatureCollection","features":[` + feature + `]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestBuildLayersSingleFileCompilesDirectly(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "KJFK-rwy.geojson", `{"type":"Feature","properties":{}}`)

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.BuildOptions{MinZoom: 0, MaxZoom: 18})

	pkgs, err := builder.BuildLayers(context.Background(), map[string][]string{"rwy": {source}}, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(pkgs) != 1 || filepath.Base(pkgs[0]) != "rwy.mbtiles" {
		t.Fatalf("unexpected packages %v", pkgs)
	}
	if len(tools.CompileCalls) != 1 {
		t.Fatalf("expected one compile, got %d", len(tools.CompileCalls))
	}
	call := tools.CompileCalls[0]
	if call.Layer != "rwy" || call.MinZoom != 0 || call.MaxZoom != 18 {
		t.Fatalf("unexpected compile spec %+v", call)
	}
	if len(tools.MergeCalls) != 0 {
		t.Fatalf("single-file layer must not merge, got %d calls", len(tools.MergeCalls))
	}
}

func TestBuildLayersMultiFileMergesIntermediates(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "KJFK-rwy.geojson", `{"type":"Feature","properties":{"n":1}}`)
	b := writeSource(t, dir, "EGLL-rwy.geojson", `{"type":"Feature","properties":{"n":2}}`)

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	pkgs, err := builder.BuildLayers(context.Background(), map[string][]string{"rwy": {a, b}}, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tools.CompileCalls) != 2 {
		t.Fatalf("expected per-file compiles, got %d", len(tools.CompileCalls))
	}
	// Both intermediates carry the same layer name tag.
	for _, call := range tools.CompileCalls {
		if call.Layer != "rwy" {
			t.Fatalf("unexpected layer tag %q", call.Layer)
		}
	}
	if len(tools.MergeCalls) != 1 || len(tools.MergeCalls[0].Inputs) != 2 {
		t.Fatalf("expected one merge over two intermediates, got %+v", tools.MergeCalls)
	}

	pkg, err := tilefakes.ReadPackage(pkgs[0])
	if err != nil {
		t.Fatalf("read package: %v", err)
	}
	if len(pkg.Layers["rwy"]) != 2 {
		t.Fatalf("expected both files' features merged, got %v", pkg.Layers)
	}
}

func TestBuildLayersDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "x-twy.geojson", `{"type":"Feature"}`)
	b := writeSource(t, dir, "x-rwy.geojson", `{"type":"Feature"}`)

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	if _, err := builder.BuildLayers(context.Background(), map[string][]string{"twy": {a}, "rwy": {b}}, dir); err != nil {
		t.Fatalf("build: %v", err)
	}
	if tools.CompileCalls[0].Layer != "rwy" || tools.CompileCalls[1].Layer != "twy" {
		t.Fatalf("expected sorted layer order, got %+v", tools.CompileCalls)
	}
}

func TestBuildLayersDoNotTouchCallerFiles(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "KJFK-output.geojson", `{"type":"Feature"}`)

	// A caller file whose name matches the user-derived layer name.
	callerFile := filepath.Join(dir, "output.mbtiles")
	if err := os.WriteFile(callerFile, []byte("caller-bytes"), 0o644); err != nil {
		t.Fatalf("write caller file: %v", err)
	}

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	pkgs, err := builder.BuildLayers(context.Background(), map[string][]string{"output": {source}}, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pkgs[0] == callerFile {
		t.Fatalf("layer package must not share the caller's path %q", callerFile)
	}
	raw, err := os.ReadFile(callerFile)
	if err != nil {
		t.Fatalf("read caller file: %v", err)
	}
	if string(raw) != "caller-bytes" {
		t.Fatalf("caller file clobbered: %q", raw)
	}
}

func TestBuildLayersCompileFailureAborts(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "x-rwy.geojson", `{"type":"Feature"}`)
	b := writeSource(t, dir, "x-twy.geojson", `{"type":"Feature"}`)

	tools := &tilefakes.Toolchain{
		FailCompile: apperrors.New(apperrors.CodeTileCompileFailed, "tile compilation failed"),
	}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	_, err := builder.BuildLayers(context.Background(), map[string][]string{"rwy": {a}, "twy": {b}}, dir)
	if apperrors.CodeOf(err) != apperrors.CodeTileCompileFailed {
		t.Fatalf("expected TILE_COMPILE_FAILED, got %v", err)
	}
	// The first failure aborts remaining layers.
	if len(tools.CompileCalls) != 1 {
		t.Fatalf("expected the job to stop after the first failure, got %d compiles", len(tools.CompileCalls))
	}
}

func TestAssembleFinalSingleLayerCopiesBytes(t *testing.T) {
	dir := t.TempDir()
	layerPkg := filepath.Join(dir, "rwy.mbtiles")
	if err := os.WriteFile(layerPkg, []byte("layer-bytes"), 0o644); err != nil {
		t.Fatalf("write layer package: %v", err)
	}

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	out := filepath.Join(dir, "output.mbtiles")
	if err := builder.AssembleFinal(context.Background(), []string{layerPkg}, out); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(tools.MergeCalls) != 0 {
		t.Fatal("single package must be copied, not merged")
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(raw) != "layer-bytes" {
		t.Fatalf("expected byte-for-byte copy, got %q", raw)
	}
}

func TestAssembleFinalMultipleLayersMerges(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "rwy.mbtiles")
	bPkg := filepath.Join(dir, "twy.mbtiles")
	if err := tilefakes.WritePackage(a, tilefakes.Package{}); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := tilefakes.WritePackage(bPkg, tilefakes.Package{}); err != nil {
		t.Fatalf("write b: %v", err)
	}

	tools := &tilefakes.Toolchain{}
	builder := tiles.NewBuilder(tools, tiles.DefaultBuildOptions())

	out := filepath.Join(dir, "output.mbtiles")
	if err := builder.AssembleFinal(context.Background(), []string{a, bPkg}, out); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(tools.MergeCalls) != 1 || tools.MergeCalls[0].Output != out {
		t.Fatalf("expected one merge into the final path, got %+v", tools.MergeCalls)
	}
}
