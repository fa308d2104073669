// Package layer partitions feature files into named tile layers.
//
// The layer name is derived from the filename: underscores are normalized to
// dashes and everything AFTER the first dash names the layer, the complement
// of the group-identifier token used by the geojson package. Files without a
// separator, or with nothing after it, use the whole stem (trailing dashes
// trimmed) as their layer name; those files carry no group identifier, so
// the two derivations never overlap.
package layer

import (
	"path/filepath"
	"sort"
	"strings"
)

// Name derives the layer name from a feature filename. It is a pure
// function of the string.
func Name(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	normalized := strings.ReplaceAll(stem, "_", "-")
	idx := strings.Index(normalized, "-")
	if idx < 0 || idx+1 >= len(normalized) {
		return strings.TrimRight(normalized, "-")
	}
	return normalized[idx+1:]
}

// Group partitions the files by layer name, preserving the given discovery
// order within each layer.
func Group(files []string) map[string][]string {
	groups := make(map[string][]string)
	for _, file := range files {
		name := Name(file)
		groups[name] = append(groups[name], file)
	}
	return groups
}

// Names returns the layer names of the grouping, sorted for deterministic
// processing order.
func Names(groups map[string][]string) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
