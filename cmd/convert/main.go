// Package main converts a local archive of GeoJSON feature files into one
// MBTiles package without starting the HTTP service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	convertcmd "github.com/geoforge/tilesmith/internal/cmd/convert"
	"github.com/geoforge/tilesmith/internal/platform/config"
)

func main() {
	cfg, err := convertcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[TILESMITH] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := convertcmd.Run(ctx, cfg); err != nil {
		config.Exitf("convert failed: %v", err)
	}
}
