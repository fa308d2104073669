package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/geoforge/tilesmith/internal/geojson"
	"github.com/geoforge/tilesmith/internal/mbtiles"
	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
	"github.com/geoforge/tilesmith/internal/tiles"
	"github.com/tidwall/gjson"
)

// UpdateMode selects the publish semantics.
type UpdateMode string

const (
	// ModeReplace wholly overwrites the remote target.
	ModeReplace UpdateMode = "replace"
	// ModeAppend reconciles with existing remote content before
	// overwriting.
	ModeAppend UpdateMode = "append"
)

// ParseUpdateMode validates a caller-supplied update mode.
func ParseUpdateMode(raw string) (UpdateMode, error) {
	switch UpdateMode(raw) {
	case ModeReplace, ModeAppend:
		return UpdateMode(raw), nil
	}
	return "", apperrors.New(apperrors.CodeParamsInvalid, fmt.Sprintf("invalid update mode %q, expected replace or append", raw))
}

// Granularity selects how append mode identifies conflicting content.
type Granularity string

const (
	// GranularityLayer replaces whole layers that collide by name.
	GranularityLayer Granularity = "layer"
	// GranularityFeature replaces individual features that collide by
	// group identifier, falling back to layer granularity when no group
	// identity is available.
	GranularityFeature Granularity = "feature"
)

// Request describes one publish of an assembled package.
type Request struct {
	TilesetID string
	Token     string
	Mode      UpdateMode

	// PackagePath is the assembled package to publish.
	PackagePath string
	// WorkDir is scratch space owned by the calling job.
	WorkDir string

	// Layers names the package's layers; read from the package manifest
	// when nil.
	Layers []string
	// Groups lists the package's group identifiers; read from the package
	// metadata when nil.
	Groups []string
	// Sources optionally maps layer names to the upload's tagged feature
	// files. When nil (push to production), feature-granularity append
	// decodes the package instead.
	Sources map[string][]string
}

// Outcome reports a completed publish.
type Outcome struct {
	TilesetID        string
	Mode             UpdateMode
	NewTileset       bool
	ReplacedLayers   []string
	ReplacedGroups   []string
	PublishedPackage string
	Message          string
}

// Reconciler drives the publish state machine.
type Reconciler struct {
	remote      RemoteAPI
	tools       tiles.Toolchain
	buildOpts   tiles.BuildOptions
	granularity Granularity

	// layerManifest and packageGroups default to the mbtiles readers and
	// are swappable in tests.
	layerManifest func(path string) ([]string, error)
	packageGroups func(path string) ([]string, error)
}

// NewReconciler creates a reconciler for the given remote and toolchain.
func NewReconciler(remote RemoteAPI, tools tiles.Toolchain, buildOpts tiles.BuildOptions, granularity Granularity) *Reconciler {
	return &Reconciler{
		remote:        remote,
		tools:         tools,
		buildOpts:     buildOpts,
		granularity:   granularity,
		layerManifest: mbtiles.Layers,
		packageGroups: mbtiles.GroupCodes,
	}
}

// WithPackageReaders overrides how layer manifests and group identifiers
// are read from packages, so tests can reconcile fake packages.
func (r *Reconciler) WithPackageReaders(layers, groups func(path string) ([]string, error)) *Reconciler {
	if layers != nil {
		r.layerManifest = layers
	}
	if groups != nil {
		r.packageGroups = groups
	}
	return r
}

// Publish runs the publish state machine for one request.
//
// Replace mode uploads the package directly. Append mode downloads the
// currently hosted package; a missing tileset degrades to a plain upload,
// any other fetch failure aborts before anything is published.
func (r *Reconciler) Publish(ctx context.Context, req Request) (Outcome, error) {
	if !strings.Contains(req.TilesetID, ".") {
		return Outcome{}, apperrors.New(apperrors.CodeParamsInvalid, "tileset ID must be in owner.name format")
	}

	outcome := Outcome{TilesetID: req.TilesetID, Mode: req.Mode, PublishedPackage: req.PackagePath}

	if req.Mode == ModeReplace {
		if err := r.remote.Upload(ctx, req.Token, req.TilesetID, req.PackagePath); err != nil {
			return Outcome{}, err
		}
		outcome.Message = "Tileset uploaded successfully (replace mode)"
		return outcome, nil
	}

	existing := filepath.Join(req.WorkDir, "existing.mbtiles")
	err := r.remote.Download(ctx, req.Token, req.TilesetID, existing)
	if errors.Is(err, ErrTilesetNotFound) {
		if err := r.remote.Upload(ctx, req.Token, req.TilesetID, req.PackagePath); err != nil {
			return Outcome{}, err
		}
		outcome.NewTileset = true
		outcome.Message = "Tileset uploaded as a new tileset (append mode, nothing to merge)"
		return outcome, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	merged, err := r.reconcile(ctx, req, existing, &outcome)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.remote.Upload(ctx, req.Token, req.TilesetID, merged); err != nil {
		return Outcome{}, err
	}
	outcome.PublishedPackage = merged
	return outcome, nil
}

func (r *Reconciler) reconcile(ctx context.Context, req Request, existing string, outcome *Outcome) (string, error) {
	if r.granularity == GranularityFeature {
		groups := req.Groups
		if groups == nil {
			var err error
			groups, err = r.packageGroups(req.PackagePath)
			if err != nil {
				return "", apperrors.Wrap(apperrors.CodeReconcileFailed, "read package group identifiers", err)
			}
		}
		if len(groups) > 0 {
			return r.reconcileFeatures(ctx, req, existing, groups, outcome)
		}
		// No feature identity available; fall back to whole-layer
		// replacement.
	}
	return r.reconcileLayers(ctx, req, existing, outcome)
}

// reconcileLayers replaces whole layers that collide by name: filter them
// out of the existing package, then merge the remainder with the new one.
func (r *Reconciler) reconcileLayers(ctx context.Context, req Request, existing string, outcome *Outcome) (string, error) {
	newLayers := req.Layers
	if newLayers == nil {
		var err error
		newLayers, err = r.layerManifest(req.PackagePath)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeReconcileFailed, "read new package manifest", err)
		}
	}
	existingLayers, err := r.layerManifest(existing)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeReconcileFailed, "read existing package manifest", err)
	}

	replaced := intersect(existingLayers, newLayers)
	outcome.ReplacedLayers = replaced

	base := existing
	if len(replaced) > 0 {
		filtered := filepath.Join(req.WorkDir, "existing_filtered.mbtiles")
		if err := r.tools.Merge(ctx, tiles.MergeSpec{Output: filtered, Inputs: []string{existing}, ExcludeLayers: replaced}); err != nil {
			return "", err
		}
		base = filtered
	}

	merged := filepath.Join(req.WorkDir, "merged.mbtiles")
	if err := r.tools.Merge(ctx, tiles.MergeSpec{Output: merged, Inputs: []string{base, req.PackagePath}}); err != nil {
		return "", err
	}

	if len(replaced) > 0 {
		outcome.Message = fmt.Sprintf("Tileset uploaded successfully (append mode, replaced layers: %s)", strings.Join(replaced, ", "))
	} else {
		outcome.Message = "Tileset uploaded successfully (append mode, merged with existing)"
	}
	return merged, nil
}

// reconcileFeatures decodes the existing package, drops every feature whose
// group identifier belongs to the new upload, and rebuilds one package from
// the combined feature set so deleted and re-added features never coexist at
// the tile level.
func (r *Reconciler) reconcileFeatures(ctx context.Context, req Request, existing string, groups []string, outcome *Outcome) (string, error) {
	groupSet := make(map[string]bool, len(groups))
	for _, code := range groups {
		groupSet[code] = true
	}

	scratch := filepath.Join(req.WorkDir, "reconcile")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.CodeReconcileFailed, "create reconcile scratch dir", err)
	}

	existingLayers, err := r.layerManifest(existing)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeReconcileFailed, "read existing package manifest", err)
	}

	combined := make(map[string][]string)
	removed := make(map[string]bool)
	for _, name := range existingLayers {
		doc, err := r.tools.Decode(ctx, existing, name)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeReconcileFailed, fmt.Sprintf("decode existing layer %q", name), err)
		}
		survivors := filterFeatures(doc, groupSet, removed)
		if len(survivors) == 0 {
			continue
		}
		path := filepath.Join(scratch, "existing_"+sanitizeLayer(name)+".geojson")
		if err := writeFeatureCollection(path, survivors); err != nil {
			return "", apperrors.Wrap(apperrors.CodeReconcileFailed, fmt.Sprintf("write surviving features for layer %q", name), err)
		}
		combined[name] = append(combined[name], path)
	}

	newSources := req.Sources
	if newSources == nil {
		newSources, err = r.decodePackageSources(ctx, req.PackagePath, req.Layers, scratch)
		if err != nil {
			return "", err
		}
	}
	for name, files := range newSources {
		combined[name] = append(combined[name], files...)
	}

	builder := tiles.NewBuilder(r.tools, r.buildOpts)
	layerPkgs, err := builder.BuildLayers(ctx, combined, scratch)
	if err != nil {
		return "", err
	}
	merged := filepath.Join(req.WorkDir, "merged.mbtiles")
	if err := builder.AssembleFinal(ctx, layerPkgs, merged); err != nil {
		return "", err
	}

	outcome.ReplacedGroups = sortedKeys(removed)
	if len(outcome.ReplacedGroups) > 0 {
		outcome.Message = fmt.Sprintf("Tileset uploaded successfully (append mode, refreshed groups: %s)", strings.Join(outcome.ReplacedGroups, ", "))
	} else {
		outcome.Message = "Tileset uploaded successfully (append mode, merged with existing)"
	}
	return merged, nil
}

// decodePackageSources extracts every layer of the new package back to
// GeoJSON files, used when the original tagged sources are gone (push to
// production).
func (r *Reconciler) decodePackageSources(ctx context.Context, pkg string, layers []string, scratch string) (map[string][]string, error) {
	if layers == nil {
		var err error
		layers, err = r.layerManifest(pkg)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeReconcileFailed, "read new package manifest", err)
		}
	}
	sources := make(map[string][]string, len(layers))
	for _, name := range layers {
		doc, err := r.tools.Decode(ctx, pkg, name)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeReconcileFailed, fmt.Sprintf("decode new layer %q", name), err)
		}
		path := filepath.Join(scratch, "new_"+sanitizeLayer(name)+".geojson")
		if err := os.WriteFile(path, doc, 0o644); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeReconcileFailed, fmt.Sprintf("write decoded layer %q", name), err)
		}
		sources[name] = []string{path}
	}
	return sources, nil
}

// filterFeatures returns the raw features of doc whose group identifier is
// not in exclude, recording which identifiers were dropped.
func filterFeatures(doc []byte, exclude map[string]bool, removed map[string]bool) []json.RawMessage {
	var survivors []json.RawMessage
	for _, feature := range gjson.GetBytes(doc, "features").Array() {
		code := feature.Get("properties." + geojson.GroupProperty).String()
		if code != "" && exclude[code] {
			removed[code] = true
			continue
		}
		survivors = append(survivors, json.RawMessage(feature.Raw))
	}
	return survivors
}

func writeFeatureCollection(path string, features []json.RawMessage) error {
	doc, err := json.Marshal(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, doc, 0o644)
}

func sanitizeLayer(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, name)
}

func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, name := range b {
		inB[name] = true
	}
	var shared []string
	for _, name := range a {
		if inB[name] {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	return shared
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
