package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.MaxUploadBytes != 524288000 {
		t.Fatalf("unexpected max upload %d", cfg.MaxUploadBytes)
	}
	if cfg.MinZoom != 0 || cfg.MaxZoom != 18 {
		t.Fatalf("unexpected zoom range %d..%d", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.Granularity != "layer" {
		t.Fatalf("unexpected granularity %q", cfg.Granularity)
	}
	want := filepath.Join(cfg.StorageRoot, "history.db")
	if cfg.HistoryPath != want {
		t.Fatalf("expected derived history path %q, got %q", want, cfg.HistoryPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TILESMITH_STORAGE_ROOT", "/srv/tiles")
	t.Setenv("TILESMITH_RECONCILE_GRANULARITY", "feature")
	t.Setenv("TILESMITH_MAX_ZOOM", "14")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageRoot != "/srv/tiles" {
		t.Fatalf("unexpected storage root %q", cfg.StorageRoot)
	}
	if cfg.Granularity != "feature" {
		t.Fatalf("unexpected granularity %q", cfg.Granularity)
	}
	if cfg.MaxZoom != 14 {
		t.Fatalf("unexpected max zoom %d", cfg.MaxZoom)
	}
}

func TestLoadRejectsBadGranularity(t *testing.T) {
	t.Setenv("TILESMITH_RECONCILE_GRANULARITY", "tile")
	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadRejectsInvertedZoomRange(t *testing.T) {
	t.Setenv("TILESMITH_MIN_ZOOM", "10")
	t.Setenv("TILESMITH_MAX_ZOOM", "4")
	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("TILESMITH_MAX_ZOOM", "not-an-int")
	var cfg Config
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
