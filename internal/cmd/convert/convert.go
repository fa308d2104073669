// Package convert wires configuration into the one-shot conversion command.
package convert

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/geoforge/tilesmith/internal/job"
	"github.com/geoforge/tilesmith/internal/platform/config"
	"github.com/geoforge/tilesmith/internal/tiles"
)

// Config holds the convert command configuration.
type Config struct {
	Service config.Config

	// ArchivePath is the local ZIP of feature files to convert.
	ArchivePath string
	// OutputPath is where the assembled package is written.
	OutputPath string
}

// ParseConfig loads the environment configuration and parses flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	service, err := config.Load()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Service: service, OutputPath: "output.mbtiles"}
	fs.StringVar(&cfg.ArchivePath, "in", cfg.ArchivePath, "ZIP archive of GeoJSON feature files")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "Destination MBTiles path")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ArchivePath == "" {
		return Config{}, fmt.Errorf("-in is required")
	}
	return cfg, nil
}

// Run converts one archive to an MBTiles package on disk.
func Run(ctx context.Context, cfg Config) error {
	tools := &tiles.ExecToolchain{
		TippecanoeBin: cfg.Service.TippecanoeBin,
		TileJoinBin:   cfg.Service.TileJoinBin,
		TileDecodeBin: cfg.Service.TileDecodeBin,
	}
	opts := tiles.BuildOptions{MinZoom: cfg.Service.MinZoom, MaxZoom: cfg.Service.MaxZoom}
	runner := job.NewRunner(tools, nil, nil, nil, opts)

	out, err := os.Create(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	result, err := runner.Run(ctx, job.Params{OutputMode: job.OutputDownload}, cfg.ArchivePath, out)
	if err != nil {
		os.Remove(cfg.OutputPath)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	fmt.Printf("wrote %s (layers: %d, groups: %d)\n", cfg.OutputPath, len(result.Layers), len(result.Groups))
	return nil
}
