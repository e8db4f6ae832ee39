// Package cmd wires the backup and restore pipeline into a CLI.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/guard"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/restore"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/snapshot"
)

// Shared by all subcommands, set once in Execute.
var (
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wimm-backup",
	Short: "Backup, restore and migration pipeline for WIMM Finance databases",
	Long: `Backup, restore and migration pipeline for WIMM Finance deployments.

The pipeline handles both supported engines:
  sqlite    - single-file deployments, snapshotted with VACUUM INTO
  postgres  - server deployments, snapshotted with pg_dump

Restores accept backups from either engine. A SQLite backup restored into
a PostgreSQL deployment is migrated table by table; the reverse direction
is not supported.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI with the given configuration and logger.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(statusCmd)
}

// newOrchestrator builds the restore pipeline from the active configuration.
func newOrchestrator() *restore.Orchestrator {
	return restore.New(cfg, runner.NewExec(), newGuard(), log)
}

func newCreator() *snapshot.Creator {
	return snapshot.NewCreator(cfg, runner.NewExec(), log)
}

func newGuard() *guard.Guard {
	return guard.New(cfg.GetEffectiveWorkDir(), log)
}

func requireValidConfig() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}
