// Package mbtiles reads and annotates MBTiles package metadata.
//
// An MBTiles package is a SQLite database whose metadata table carries the
// layer manifest as JSON under the "json" key. A custom key embeds the
// upload's group summaries so later publishes can recover feature identity
// from the package alone.
package mbtiles

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/geoforge/tilesmith/internal/geojson"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

// MetadataGroupsKey is the metadata key holding the group summary list.
const MetadataGroupsKey = "tilesmith_groups"

// Layers extracts the layer names from the package's vector_layers manifest.
// A package without a manifest yields an empty list.
func Layers(path string) ([]string, error) {
	value, err := readMetadata(path, "json")
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	var names []string
	for _, id := range gjson.Get(value, "vector_layers.#.id").Array() {
		names = append(names, id.String())
	}
	return names, nil
}

// ReadGroupSummaries loads the embedded group summary list, or nil when the
// package carries none.
func ReadGroupSummaries(path string) ([]geojson.GroupSummary, error) {
	value, err := readMetadata(path, MetadataGroupsKey)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	var summaries []geojson.GroupSummary
	if err := json.Unmarshal([]byte(value), &summaries); err != nil {
		return nil, fmt.Errorf("parse group summaries: %w", err)
	}
	return summaries, nil
}

// GroupCodes lists the group identifiers embedded in the package, or nil.
func GroupCodes(path string) ([]string, error) {
	summaries, err := ReadGroupSummaries(path)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(summaries))
	for _, s := range summaries {
		codes = append(codes, s.Code)
	}
	return codes, nil
}

// WriteGroupSummaries embeds the group summary list into the package
// metadata, replacing any prior value.
func WriteGroupSummaries(path string, summaries []geojson.GroupSummary) error {
	value, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("encode group summaries: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	defer sqlDB.Close()

	// MBTiles files are not guaranteed to carry a unique index on
	// metadata.name, so replace by delete-then-insert.
	tx, err := sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("write group summaries: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM metadata WHERE name = ?", MetadataGroupsKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write group summaries: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", MetadataGroupsKey, string(value)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write group summaries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write group summaries: %w", err)
	}
	return nil
}

func readMetadata(path, name string) (string, error) {
	sqlDB, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return "", fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	defer sqlDB.Close()

	var value string
	err = sqlDB.QueryRow("SELECT value FROM metadata WHERE name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read mbtiles metadata %q: %w", name, err)
	}
	return value, nil
}
