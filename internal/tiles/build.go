package tiles

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// BuildOptions configures the per-deployment compilation policy.
type BuildOptions struct {
	MinZoom int
	MaxZoom int
}

// DefaultBuildOptions matches the zoom policy of the hosted deployment.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{MinZoom: 0, MaxZoom: 18}
}

// Builder compiles layer groupings into per-layer packages and assembles
// the final package.
type Builder struct {
	tools Toolchain
	opts  BuildOptions
}

// NewBuilder creates a builder around the given toolchain.
func NewBuilder(tools Toolchain, opts BuildOptions) *Builder {
	return &Builder{tools: tools, opts: opts}
}

// BuildLayers compiles one tile package per layer under workDir.
//
// Layers are processed in sorted name order. A layer with a single source
// file compiles straight to its per-layer package; a layer with several
// sources compiles each to an intermediate package first and merges the
// intermediates. The first tool failure aborts the whole build.
//
// Per-layer packages live in a layers/ subdirectory so a user-derived layer
// name can never collide with the caller's own files in workDir.
func (b *Builder) BuildLayers(ctx context.Context, groups map[string][]string, workDir string) ([]string, error) {
	layerDir := filepath.Join(workDir, "layers")
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return nil, fmt.Errorf("create layer package dir: %w", err)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	packages := make([]string, 0, len(names))
	for _, name := range names {
		pkg, err := b.buildLayer(ctx, name, groups[name], layerDir)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func (b *Builder) buildLayer(ctx context.Context, name string, sources []string, layerDir string) (string, error) {
	layerPkg := filepath.Join(layerDir, name+".mbtiles")

	if len(sources) == 1 {
		err := b.tools.Compile(ctx, CompileSpec{
			Sources: sources,
			Output:  layerPkg,
			Layer:   name,
			MinZoom: b.opts.MinZoom,
			MaxZoom: b.opts.MaxZoom,
		})
		if err != nil {
			return "", err
		}
		return layerPkg, nil
	}

	intermediates := make([]string, 0, len(sources))
	for idx, source := range sources {
		part := filepath.Join(layerDir, fmt.Sprintf("%s_%d.mbtiles", name, idx))
		err := b.tools.Compile(ctx, CompileSpec{
			Sources: []string{source},
			Output:  part,
			Layer:   name,
			MinZoom: b.opts.MinZoom,
			MaxZoom: b.opts.MaxZoom,
		})
		if err != nil {
			return "", err
		}
		intermediates = append(intermediates, part)
	}

	if err := b.tools.Merge(ctx, MergeSpec{Output: layerPkg, Inputs: intermediates}); err != nil {
		return "", err
	}
	return layerPkg, nil
}

// AssembleFinal merges the per-layer packages into outPath.
//
// A single layer is copied byte for byte rather than run through the merge
// tool.
func (b *Builder) AssembleFinal(ctx context.Context, layerPkgs []string, outPath string) error {
	if len(layerPkgs) == 0 {
		return fmt.Errorf("no layer packages to assemble")
	}
	if len(layerPkgs) == 1 {
		return copyFile(layerPkgs[0], outPath)
	}
	return b.tools.Merge(ctx, MergeSpec{Output: outPath, Inputs: layerPkgs})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
