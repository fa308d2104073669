// Package tilefakes provides in-memory fakes for the external tile toolchain
// and the remote tileset service.
//
// The fake toolchain writes JSON "packages" of the shape
// {"layers":{name:[feature,...]}} so merge, filter and decode behave
// meaningfully in tests without spawning real processes.
package tilefakes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/geoforge/tilesmith/internal/publish"
	"github.com/geoforge/tilesmith/internal/tiles"
	"github.com/tidwall/gjson"
)

// Package is the fake tile package document.
type Package struct {
	Layers map[string][]json.RawMessage `json:"layers"`
}

// ReadPackage loads a fake package from disk.
func ReadPackage(path string) (Package, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Package{}, err
	}
	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return Package{}, fmt.Errorf("parse fake package %s: %w", path, err)
	}
	if pkg.Layers == nil {
		pkg.Layers = make(map[string][]json.RawMessage)
	}
	return pkg, nil
}

// WritePackage stores a fake package to disk.
func WritePackage(path string, pkg Package) error {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Layers lists a fake package's layer names, sorted. Its signature matches
// the mbtiles manifest reader so reconcilers can swap it in.
func Layers(path string) ([]string, error) {
	pkg, err := ReadPackage(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pkg.Layers))
	for name := range pkg.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Toolchain is a fake tiles.Toolchain recording every invocation.
type Toolchain struct {
	CompileCalls []tiles.CompileSpec
	MergeCalls   []tiles.MergeSpec
	DecodeCalls  []string

	FailCompile error
	FailMerge   error
	FailDecode  error
}

// Compile collects the sources' features into a single-layer fake package.
func (f *Toolchain) Compile(_ context.Context, spec tiles.CompileSpec) error {
	f.CompileCalls = append(f.CompileCalls, spec)
	if f.FailCompile != nil {
		return f.FailCompile
	}

	var features []json.RawMessage
	for _, source := range spec.Sources {
		raw, err := os.ReadFile(source)
		if err != nil {
			return err
		}
		for _, feature := range gjson.GetBytes(raw, "features").Array() {
			features = append(features, json.RawMessage(feature.Raw))
		}
	}
	return WritePackage(spec.Output, Package{Layers: map[string][]json.RawMessage{spec.Layer: features}})
}

// Merge combines fake packages, dropping excluded layers.
func (f *Toolchain) Merge(_ context.Context, spec tiles.MergeSpec) error {
	f.MergeCalls = append(f.MergeCalls, spec)
	if f.FailMerge != nil {
		return f.FailMerge
	}

	merged := Package{Layers: make(map[string][]json.RawMessage)}
	for _, input := range spec.Inputs {
		pkg, err := ReadPackage(input)
		if err != nil {
			return err
		}
		for name, features := range pkg.Layers {
			merged.Layers[name] = append(merged.Layers[name], features...)
		}
	}
	for _, name := range spec.ExcludeLayers {
		delete(merged.Layers, name)
	}
	return WritePackage(spec.Output, merged)
}

// Decode renders one layer back to a GeoJSON FeatureCollection.
func (f *Toolchain) Decode(_ context.Context, pkg, layer string) ([]byte, error) {
	f.DecodeCalls = append(f.DecodeCalls, pkg+":"+layer)
	if f.FailDecode != nil {
		return nil, f.FailDecode
	}

	doc, err := ReadPackage(pkg)
	if err != nil {
		return nil, err
	}
	features := doc.Layers[layer]
	if features == nil {
		features = []json.RawMessage{}
	}
	return json.Marshal(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	})
}

// Remote is a fake hosted tileset service keyed by tileset ID.
type Remote struct {
	Packages    map[string][]byte
	UploadCalls []string
	Tokens      []string

	FailUpload   error
	FailDownload error
}

// NewRemote constructs a Remote fake with initialized state maps.
func NewRemote() *Remote {
	return &Remote{Packages: make(map[string][]byte)}
}

// Upload stores the package bytes under the tileset ID.
func (r *Remote) Upload(_ context.Context, token, tilesetID, packagePath string) error {
	r.UploadCalls = append(r.UploadCalls, tilesetID)
	r.Tokens = append(r.Tokens, token)
	if r.FailUpload != nil {
		return r.FailUpload
	}
	raw, err := os.ReadFile(packagePath)
	if err != nil {
		return err
	}
	r.Packages[tilesetID] = raw
	return nil
}

// Download writes the stored package to destPath, or reports the tileset
// missing.
func (r *Remote) Download(_ context.Context, token, tilesetID, destPath string) error {
	if r.FailDownload != nil {
		return r.FailDownload
	}
	raw, ok := r.Packages[tilesetID]
	if !ok {
		return publish.ErrTilesetNotFound
	}
	return os.WriteFile(destPath, raw, 0o644)
}
