// Package server wires configuration into the HTTP service process.
package server

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/geoforge/tilesmith/internal/history"
	"github.com/geoforge/tilesmith/internal/job"
	"github.com/geoforge/tilesmith/internal/platform/config"
	"github.com/geoforge/tilesmith/internal/platform/otel"
	"github.com/geoforge/tilesmith/internal/publish"
	"github.com/geoforge/tilesmith/internal/retention"
	"github.com/geoforge/tilesmith/internal/server"
	"github.com/geoforge/tilesmith/internal/tiles"
)

// ParseConfig loads the environment configuration and applies flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.StorageRoot, "storage-root", cfg.StorageRoot, "Durable directory for retained tile packages")
	fs.StringVar(&cfg.RemoteBaseURL, "remote-base-url", cfg.RemoteBaseURL, "Hosted tileset service base URL")
	fs.StringVar(&cfg.Granularity, "granularity", cfg.Granularity, "Append reconciliation granularity (layer or feature)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Run starts the conversion service.
func Run(ctx context.Context, cfg config.Config) error {
	shutdown, err := otel.Setup(ctx, "tilesmith")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown(context.Background())

	retained, err := retention.NewFS(cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("init retention storage: %w", err)
	}
	records, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("open history storage: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			log.Printf("close history storage: %v", err)
		}
	}()

	tools := &tiles.ExecToolchain{
		TippecanoeBin: cfg.TippecanoeBin,
		TileJoinBin:   cfg.TileJoinBin,
		TileDecodeBin: cfg.TileDecodeBin,
	}
	opts := tiles.BuildOptions{MinZoom: cfg.MinZoom, MaxZoom: cfg.MaxZoom}
	client := publish.NewClient(cfg.RemoteBaseURL)
	reconciler := publish.NewReconciler(client, tools, opts, publish.Granularity(cfg.Granularity))
	runner := job.NewRunner(tools, reconciler, retained, records, opts)

	srv := server.New(cfg, runner, records)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}
