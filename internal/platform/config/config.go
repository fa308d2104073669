// Package config loads process-wide configuration from the environment.
//
// Configuration is parsed once at startup into an explicit struct and passed
// by reference into the job handler; no package keeps ambient globals.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the tilesmith service configuration.
type Config struct {
	// HTTPAddr is the HTTP listen address.
	HTTPAddr string `env:"TILESMITH_HTTP_ADDR" envDefault:"localhost:8080"`

	// StorageRoot is the durable directory for retained tile packages.
	StorageRoot string `env:"TILESMITH_STORAGE_ROOT" envDefault:"/data/mbtiles"`

	// HistoryPath is the publish-history database path. Defaults to
	// history.db under StorageRoot when empty.
	HistoryPath string `env:"TILESMITH_HISTORY_DB"`

	// MaxUploadBytes caps the accepted archive size (default 500MB).
	MaxUploadBytes int64 `env:"TILESMITH_MAX_UPLOAD_BYTES" envDefault:"524288000"`

	// RemoteBaseURL is the hosted tileset service endpoint.
	RemoteBaseURL string `env:"TILESMITH_REMOTE_BASE_URL" envDefault:"https://api.mapbox.com"`

	// RemoteToken is the fallback publish credential when a request
	// carries none.
	RemoteToken string `env:"TILESMITH_REMOTE_TOKEN"`

	// DefaultStagingTileset and DefaultProductionTileset identify the
	// deployment's conventional publish targets.
	DefaultStagingTileset    string `env:"TILESMITH_DEFAULT_STAGING_TILESET"`
	DefaultProductionTileset string `env:"TILESMITH_DEFAULT_PRODUCTION_TILESET"`

	// External tile tool binaries.
	TippecanoeBin string `env:"TILESMITH_TIPPECANOE_BIN" envDefault:"tippecanoe"`
	TileJoinBin   string `env:"TILESMITH_TILE_JOIN_BIN" envDefault:"tile-join"`
	TileDecodeBin string `env:"TILESMITH_TILE_DECODE_BIN" envDefault:"tippecanoe-decode"`

	// Zoom range passed to the tile compiler.
	MinZoom int `env:"TILESMITH_MIN_ZOOM" envDefault:"0"`
	MaxZoom int `env:"TILESMITH_MAX_ZOOM" envDefault:"18"`

	// Granularity selects the append-mode reconciliation strategy:
	// "layer" or "feature".
	Granularity string `env:"TILESMITH_RECONCILE_GRANULARITY" envDefault:"layer"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file and parses the service configuration.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.HistoryPath) == "" {
		cfg.HistoryPath = filepath.Join(cfg.StorageRoot, "history.db")
	}
	switch cfg.Granularity {
	case "layer", "feature":
	default:
		return Config{}, fmt.Errorf("invalid reconcile granularity %q", cfg.Granularity)
	}
	if cfg.MinZoom < 0 || cfg.MaxZoom < cfg.MinZoom {
		return Config{}, fmt.Errorf("invalid zoom range %d..%d", cfg.MinZoom, cfg.MaxZoom)
	}
	return cfg, nil
}
