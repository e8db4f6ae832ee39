// wimm-backup is the backup, restore and migration pipeline for WIMM
// Finance deployments. It snapshots the active database, classifies
// uploaded backups by content, and restores them into either supported
// engine, including a one-way SQLite to PostgreSQL migration.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/cmd"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// External tools get killed cleanly when the operator interrupts.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.LogFormat)

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
