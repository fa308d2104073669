// Package geojson stamps uploaded feature files with their group identifier
// and accumulates per-group bounding summaries.
//
// The group identifier (airport code) is the token BEFORE the first `-` or
// `_` in the filename, uppercased; the layer name uses the remaining tokens
// (see the layer package). Both derivations split the same normalized
// filename so they never overlap.
package geojson

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GroupProperty is the feature property carrying the group identifier.
const GroupProperty = "airport_id"

// GroupID derives the group identifier from a feature filename.
//
// Underscores are normalized to dashes first; the token before the first
// dash is the identifier, uppercased. Filenames without a separator, or
// with nothing after it, have no derivable identifier; the layer package
// treats those stems the same way so the two derivations never overlap.
func GroupID(path string) (string, bool) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	normalized := strings.ReplaceAll(stem, "_", "-")
	idx := strings.Index(normalized, "-")
	if idx <= 0 || idx+1 >= len(normalized) {
		return "", false
	}
	return strings.ToUpper(normalized[:idx]), true
}

// Tagger rewrites feature files in place and folds their geometries into
// per-group summaries.
type Tagger struct {
	summaries map[string]*GroupSummary
}

// NewTagger creates an empty tagger.
func NewTagger() *Tagger {
	return &Tagger{summaries: make(map[string]*GroupSummary)}
}

// TagFile stamps every feature in the file with the group identifier derived
// from its filename and rewrites the file in place.
//
// Files without a derivable identifier are left untouched and excluded from
// summary accounting; the empty identifier is returned. A malformed file
// returns an error so the caller can log and skip it without aborting the
// job.
func (t *Tagger) TagFile(path string) (string, error) {
	code, ok := GroupID(path)
	if !ok {
		return "", nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%s is not valid JSON", filepath.Base(path))
	}

	summary := t.summaries[code]
	if summary == nil {
		summary = &GroupSummary{Code: code, Bounds: NewBounds()}
		t.summaries[code] = summary
	}

	count := int(gjson.GetBytes(raw, "features.#").Int())
	for i := 0; i < count; i++ {
		raw, err = sjson.SetBytes(raw, fmt.Sprintf("features.%d.properties.%s", i, GroupProperty), code)
		if err != nil {
			return "", fmt.Errorf("tag feature %d in %s: %w", i, filepath.Base(path), err)
		}
		summary.FeatureCount++
		foldGeometry(gjson.GetBytes(raw, fmt.Sprintf("features.%d.geometry", i)), &summary.Bounds)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("rewrite %s: %w", filepath.Base(path), err)
	}
	return code, nil
}

// Summaries returns the accumulated group summaries sorted by code.
func (t *Tagger) Summaries() []GroupSummary {
	out := make([]GroupSummary, 0, len(t.summaries))
	for _, s := range t.summaries {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Codes returns the accumulated group identifiers sorted lexicographically.
func (t *Tagger) Codes() []string {
	out := make([]string, 0, len(t.summaries))
	for code := range t.summaries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
