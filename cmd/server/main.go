// Package main is the entry point for the cliplru server.
//
// The main package stays minimal — its job is to:
//  1. Read configuration (env vars, optionally a .env file)
//  2. Create the logger
//  3. Build and start the server
//
// All actual logic lives in imported packages. The cmd/ directory is the
// Go convention for executable entry points; a second binary (say a
// standalone sweep cron) would get its own cmd/ subdirectory.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/cliplru/internal/config"
	"github.com/sakif/cliplru/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Ensure the data directory exists before the database opens inside it.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", filepath.Dir(cfg.DBPath)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
