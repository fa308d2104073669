// Package tiles builds and merges vector-tile packages through an external
// toolchain.
//
// The toolchain is a narrow synchronous capability interface so the pipeline
// stays testable against a fake implementation without spawning processes.
package tiles

import "context"

// CompileSpec describes one tile compilation.
type CompileSpec struct {
	// Sources are the GeoJSON input files.
	Sources []string
	// Output is the target package path.
	Output string
	// Layer names the tile layer every source feeds.
	Layer string
	// MinZoom and MaxZoom bound the generated zoom range; the compiler may
	// extend past MaxZoom while dropping dense tiles.
	MinZoom int
	MaxZoom int
}

// MergeSpec describes one package merge.
type MergeSpec struct {
	// Output is the merged package path.
	Output string
	// Inputs are the packages to merge.
	Inputs []string
	// ExcludeLayers names layers to omit from the output.
	ExcludeLayers []string
}

// Compiler turns GeoJSON sources into a tile package.
type Compiler interface {
	Compile(ctx context.Context, spec CompileSpec) error
}

// Merger combines tile packages, optionally filtering layers out.
type Merger interface {
	Merge(ctx context.Context, spec MergeSpec) error
}

// Decoder extracts one layer of a tile package back to a GeoJSON
// FeatureCollection document.
type Decoder interface {
	Decode(ctx context.Context, pkg, layer string) ([]byte, error)
}

// Toolchain is the full external tile tool capability set.
type Toolchain interface {
	Compiler
	Merger
	Decoder
}
