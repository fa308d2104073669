// Package job orchestrates one conversion run: extract the uploaded archive,
// tag and group its feature files, compile tile packages per layer, assemble
// the final package, and either stream it back or publish it remotely.
package job

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/geoforge/tilesmith/internal/geojson"
	"github.com/geoforge/tilesmith/internal/history"
	"github.com/geoforge/tilesmith/internal/intake"
	"github.com/geoforge/tilesmith/internal/layer"
	"github.com/geoforge/tilesmith/internal/mbtiles"
	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
	"github.com/geoforge/tilesmith/internal/publish"
	"github.com/geoforge/tilesmith/internal/retention"
	"github.com/geoforge/tilesmith/internal/tiles"
)

// OutputMode selects what happens with the assembled package.
type OutputMode string

const (
	// OutputDownload streams the assembled package back to the caller.
	OutputDownload OutputMode = "download"
	// OutputPublish uploads the assembled package to the remote tileset
	// service.
	OutputPublish OutputMode = "publish"
)

// ParseOutputMode validates a caller-supplied output mode.
func ParseOutputMode(raw string) (OutputMode, error) {
	switch OutputMode(raw) {
	case OutputDownload, OutputPublish:
		return OutputMode(raw), nil
	}
	return "", apperrors.New(apperrors.CodeParamsInvalid, fmt.Sprintf("invalid output mode %q, expected download or publish", raw))
}

// Params are the caller-supplied knobs for one run.
type Params struct {
	OutputMode OutputMode
	TilesetID  string
	UpdateMode publish.UpdateMode
	Token      string
}

// Validate rejects incomplete parameters before any extraction work starts.
func (p Params) Validate() error {
	switch p.OutputMode {
	case OutputDownload:
		return nil
	case OutputPublish:
	default:
		return apperrors.New(apperrors.CodeParamsInvalid, fmt.Sprintf("invalid output mode %q", string(p.OutputMode)))
	}
	if strings.TrimSpace(p.TilesetID) == "" {
		return apperrors.New(apperrors.CodeParamsInvalid, "tileset ID is required to publish")
	}
	if strings.TrimSpace(p.Token) == "" {
		return apperrors.New(apperrors.CodeParamsInvalid, "access token is required to publish")
	}
	if p.UpdateMode != publish.ModeReplace && p.UpdateMode != publish.ModeAppend {
		return apperrors.New(apperrors.CodeParamsInvalid, fmt.Sprintf("invalid update mode %q", string(p.UpdateMode)))
	}
	return nil
}

// Result reports a completed run.
type Result struct {
	Message    string   `json:"message"`
	TilesetID  string   `json:"tileset_id,omitempty"`
	Mode       string   `json:"update_mode,omitempty"`
	NewTileset bool     `json:"new_tileset,omitempty"`
	Layers     []string `json:"layers"`
	Groups     []string `json:"groups,omitempty"`
	BrowseURL  string   `json:"browse_url,omitempty"`
}

// Runner executes conversion jobs.
type Runner struct {
	tools      tiles.Toolchain
	reconciler *publish.Reconciler
	retained   retention.Store
	records    *history.Store
	opts       tiles.BuildOptions
	tracer     trace.Tracer

	// writeSummaries and readSummaries move per-group summaries in and out
	// of assembled packages and are swappable in tests.
	writeSummaries func(path string, summaries []geojson.GroupSummary) error
	readSummaries  func(path string) ([]geojson.GroupSummary, error)
}

// NewRunner wires a runner. The retention store and history store may be nil,
// in which case those steps are skipped.
func NewRunner(tools tiles.Toolchain, reconciler *publish.Reconciler, retained retention.Store, records *history.Store, opts tiles.BuildOptions) *Runner {
	return &Runner{
		tools:          tools,
		reconciler:     reconciler,
		retained:       retained,
		records:        records,
		opts:           opts,
		tracer:         otel.Tracer("tilesmith/job"),
		writeSummaries: mbtiles.WriteGroupSummaries,
		readSummaries:  mbtiles.ReadGroupSummaries,
	}
}

// Run converts one uploaded archive. The archive is read from archivePath; in
// download mode the assembled package is streamed to downloadTo, which may be
// nil otherwise.
//
// All intermediate files live in a per-run temporary directory that is
// removed when the run finishes, successful or not.
func (r *Runner) Run(ctx context.Context, params Params, archivePath string, downloadTo io.Writer) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := r.tracer.Start(ctx, "job.run")
	defer span.End()

	workDir, err := os.MkdirTemp("", "tilesmith-*")
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "create job workspace", err)
	}
	defer os.RemoveAll(workDir)

	output, layers, groups, sources, summaries, err := r.assemble(ctx, archivePath, workDir)
	if err != nil {
		return Result{}, err
	}

	if params.OutputMode == OutputDownload {
		file, err := os.Open(output)
		if err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "open assembled package", err)
		}
		defer file.Close()
		if _, err := io.Copy(downloadTo, file); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "stream assembled package", err)
		}
		return Result{Message: "Tileset assembled", Layers: layers, Groups: groups}, nil
	}

	ctx, pubSpan := r.tracer.Start(ctx, "job.publish")
	outcome, err := r.reconciler.Publish(ctx, publish.Request{
		TilesetID:   params.TilesetID,
		Token:       params.Token,
		Mode:        params.UpdateMode,
		PackagePath: output,
		WorkDir:     workDir,
		Layers:      layers,
		Groups:      groups,
		Sources:     sources,
	})
	pubSpan.End()
	if err != nil {
		return Result{}, err
	}

	// Append mode publishes a reconciled package, not the assembled one;
	// carry the group summaries over so the retained copy keeps feature
	// identity for push to production.
	r.embedSummaries(outcome.PublishedPackage, output, summaries)
	r.retain(ctx, params.TilesetID, outcome.PublishedPackage)
	r.record(ctx, outcome, layers)

	return Result{
		Message:    outcome.Message,
		TilesetID:  outcome.TilesetID,
		Mode:       string(outcome.Mode),
		NewTileset: outcome.NewTileset,
		Layers:     layers,
		Groups:     groups,
		BrowseURL:  publish.BrowseURL(outcome.TilesetID),
	}, nil
}

// PushToProduction republishes the retained package of one tileset to
// another, without a fresh upload.
func (r *Runner) PushToProduction(ctx context.Context, srcTileset, dstTileset string, mode publish.UpdateMode, token string) (Result, error) {
	if strings.TrimSpace(srcTileset) == "" || strings.TrimSpace(dstTileset) == "" {
		return Result{}, apperrors.New(apperrors.CodeParamsInvalid, "source and destination tileset IDs are required")
	}
	if strings.TrimSpace(token) == "" {
		return Result{}, apperrors.New(apperrors.CodeParamsInvalid, "access token is required to publish")
	}
	if mode != publish.ModeReplace && mode != publish.ModeAppend {
		return Result{}, apperrors.New(apperrors.CodeParamsInvalid, fmt.Sprintf("invalid update mode %q", string(mode)))
	}
	if r.retained == nil {
		return Result{}, apperrors.New(apperrors.CodeRetentionNotFound, "retention storage is not configured")
	}

	ctx, span := r.tracer.Start(ctx, "job.push_to_production")
	defer span.End()

	workDir, err := os.MkdirTemp("", "tilesmith-*")
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "create job workspace", err)
	}
	defer os.RemoveAll(workDir)

	retained := filepath.Join(workDir, "retained.mbtiles")
	if err := r.retained.Retrieve(ctx, srcTileset, retained); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeRetentionNotFound {
			return Result{}, apperrors.WrapWithMetadata(apperrors.CodeRetentionNotFound,
				fmt.Sprintf("no retained package for %s; upload the tileset again to refresh it", srcTileset),
				map[string]string{"tileset_id": srcTileset}, err)
		}
		return Result{}, err
	}

	outcome, err := r.reconciler.Publish(ctx, publish.Request{
		TilesetID:   dstTileset,
		Token:       token,
		Mode:        mode,
		PackagePath: retained,
		WorkDir:     workDir,
	})
	if err != nil {
		return Result{}, err
	}

	// The retained package carries the group summaries of its original
	// upload; move them across so the destination's retained copy keeps
	// feature identity too.
	if summaries, err := r.readSummaries(retained); err == nil {
		r.embedSummaries(outcome.PublishedPackage, retained, summaries)
	} else {
		log.Printf("reading group summaries from retained package: %v", err)
	}

	r.retain(ctx, dstTileset, outcome.PublishedPackage)
	r.record(ctx, outcome, nil)

	return Result{
		Message:    outcome.Message,
		TilesetID:  outcome.TilesetID,
		Mode:       string(outcome.Mode),
		NewTileset: outcome.NewTileset,
		Groups:     outcome.ReplacedGroups,
		BrowseURL:  publish.BrowseURL(outcome.TilesetID),
	}, nil
}

// assemble extracts, tags, groups and compiles the archive into one package,
// returning its path, layer names, group identifiers, per-layer sources and
// the accumulated group summaries.
func (r *Runner) assemble(ctx context.Context, archivePath, workDir string) (string, []string, []string, map[string][]string, []geojson.GroupSummary, error) {
	ctx, span := r.tracer.Start(ctx, "job.assemble")
	defer span.End()

	srcDir := filepath.Join(workDir, "src")
	if err := intake.Extract(archivePath, srcDir); err != nil {
		return "", nil, nil, nil, nil, err
	}
	files, err := intake.ListFeatureFiles(srcDir)
	if err != nil {
		return "", nil, nil, nil, nil, err
	}

	tagger := geojson.NewTagger()
	var usable []string
	for _, file := range files {
		if _, err := tagger.TagFile(file); err != nil {
			// A malformed file is dropped from the run, not fatal.
			log.Printf("skipping feature file: %v", err)
			continue
		}
		usable = append(usable, file)
	}
	if len(usable) == 0 {
		return "", nil, nil, nil, nil, apperrors.New(apperrors.CodeArchiveNoFeatureFiles, "archive contains no usable feature files")
	}

	sources := layer.Group(usable)
	builder := tiles.NewBuilder(r.tools, r.opts)
	layerPkgs, err := builder.BuildLayers(ctx, sources, workDir)
	if err != nil {
		return "", nil, nil, nil, nil, err
	}
	output := filepath.Join(workDir, "output.mbtiles")
	if err := builder.AssembleFinal(ctx, layerPkgs, output); err != nil {
		return "", nil, nil, nil, nil, err
	}

	summaries := tagger.Summaries()
	if len(summaries) > 0 {
		if err := r.writeSummaries(output, summaries); err != nil {
			// The package is still publishable without embedded summaries;
			// push to production loses feature granularity for it.
			log.Printf("embedding group summaries: %v", err)
		}
	}

	return output, layer.Names(sources), tagger.Codes(), sources, summaries, nil
}

// embedSummaries copies the group summaries into the published package when
// reconciliation produced a different file than the assembled one. Failures
// are logged, not fatal: the publish already happened.
func (r *Runner) embedSummaries(published, assembled string, summaries []geojson.GroupSummary) {
	if published == assembled || len(summaries) == 0 {
		return
	}
	if err := r.writeSummaries(published, summaries); err != nil {
		log.Printf("embedding group summaries into published package: %v", err)
	}
}

// retain keeps the published package for later promotion. Failures are
// logged, not fatal: the publish already happened.
func (r *Runner) retain(ctx context.Context, tilesetID, packagePath string) {
	if r.retained == nil {
		return
	}
	if err := r.retained.Save(ctx, tilesetID, packagePath); err != nil {
		log.Printf("retaining package for %s: %v", tilesetID, err)
	}
}

// record appends the publish to history. Failures are logged, not fatal.
func (r *Runner) record(ctx context.Context, outcome publish.Outcome, layers []string) {
	if r.records == nil {
		return
	}
	var size int64
	if info, err := os.Stat(outcome.PublishedPackage); err == nil {
		size = info.Size()
	}
	if layers == nil {
		layers = outcome.ReplacedLayers
	}
	_, err := r.records.Record(ctx, history.Publication{
		TilesetID:    outcome.TilesetID,
		Mode:         string(outcome.Mode),
		NewTileset:   outcome.NewTileset,
		Layers:       layers,
		Groups:       outcome.ReplacedGroups,
		PackageBytes: size,
	})
	if err != nil {
		log.Printf("recording publish history: %v", err)
	}
}
