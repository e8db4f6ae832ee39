package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/migrate"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [sqlite-file]",
	Short: "Migrate a SQLite database into the configured PostgreSQL deployment",
	Long: `Migrate the data of a SQLite database file into the currently
configured PostgreSQL deployment.

The target database is dropped and rebuilt from the canonical schema, then
every application table is copied over with its original ids, so all
relationships survive. A safety backup of the PostgreSQL database is taken
first when pg_dump is available.

This is the same engine the restore command uses for a SQLite backup
against a PostgreSQL deployment, exposed directly for deliberate engine
switches. Because it drops the target database, it refuses to run
without --confirm.

Example:
  wimm-backup migrate /var/lib/wimm/wimm.sqlite3 --confirm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd, args[0])
	},
}

var migrateConfirmFlag bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateConfirmFlag, "confirm", false, "drop and rebuild the target database")
}

func runMigrate(cmd *cobra.Command, sqlitePath string) error {
	if err := requireValidConfig(); err != nil {
		return err
	}
	if !cfg.IsPostgreSQL() {
		return fmt.Errorf("migration target must be a PostgreSQL deployment, configured type is %q", cfg.DatabaseType)
	}
	if !migrateConfirmFlag {
		color.Yellow("Confirmation required")
		fmt.Printf("  Migrating will drop every object in database %q on %s:%d and rebuild it from %s.\n",
			cfg.Database, cfg.Host, cfg.Port, sqlitePath)
		fmt.Printf("\nTo proceed:\n  wimm-backup migrate %s --confirm\n", sqlitePath)
		return nil
	}

	eng := migrate.NewEngine(cfg, runner.NewExec(), newGuard(), log)
	report, err := eng.Run(cmd.Context(), sqlitePath)
	if err != nil {
		printRestoreError(err)
		return err
	}

	color.Green("Migration complete")
	if report.SafetyBackupPath != "" {
		fmt.Printf("  Safety backup: %s\n", report.SafetyBackupPath)
	}
	for _, warning := range report.Warnings {
		color.Yellow("  Warning: %s", warning)
	}

	tables := make([]string, 0, len(report.ExportedCounts))
	for table := range report.ExportedCounts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Printf("  %-20s %d row(s)\n", table, report.ImportedCounts[table])
	}
	fmt.Printf("  Sequences reset: %d\n", len(report.SequenceResets))
	fmt.Printf("  Elapsed: %s\n", report.Elapsed.Round(time.Millisecond))
	return nil
}
