package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/restore"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/verify"
)

var (
	restoreConfirmFlag bool
	restoreTokenFlag   string
)

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-file]",
	Short: "Restore a backup into the current deployment",
	Long: `Restore an uploaded backup into the currently configured database.

A backup matching the active engine is restored in one call: the file is
verified, a safety backup of the current database is taken, and the data
is swapped in.

A SQLite backup restored into a PostgreSQL deployment is a cross-engine
migration and takes two calls. The first classifies the backup and prints
an impact summary together with a confirmation token; nothing is changed.
The second, with --confirm and the token, performs the migration.

Examples:
  # Same-engine restore, one call
  wimm-backup restore household.sqlite3

  # Cross-engine migration, step 1: classify and get a token
  wimm-backup restore household.sqlite3

  # Cross-engine migration, step 2: actually migrate
  wimm-backup restore household.sqlite3 --confirm --token <token>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd, args[0])
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreConfirmFlag, "confirm", false, "perform the destructive cross-engine migration")
	restoreCmd.Flags().StringVar(&restoreTokenFlag, "token", "", "confirmation token from the preview step")
}

func runRestore(cmd *cobra.Command, uploadPath string) error {
	if err := requireValidConfig(); err != nil {
		return err
	}
	if restoreConfirmFlag && restoreTokenFlag == "" {
		return fmt.Errorf("--confirm requires --token from the preview step")
	}

	orch := newOrchestrator()
	opts := restore.Options{Confirm: restoreConfirmFlag, Token: restoreTokenFlag}

	// Same-engine calls go destructive immediately; a cross-engine
	// preview just finishes the spinner quickly.
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("restoring"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(100 * time.Millisecond):
				_ = bar.Add(1)
			}
		}
	}()

	out, err := orch.Run(cmd.Context(), uploadPath, opts)
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		printRestoreError(err)
		return err
	}

	if out.NeedsConfirmation {
		color.Yellow("Confirmation required")
		fmt.Printf("  Scenario: %s\n", out.Scenario)
		fmt.Printf("  %s\n", out.Impact)
		for _, warning := range out.Warnings {
			color.Yellow("  Warning: %s", warning)
		}
		fmt.Printf("\nTo proceed:\n  wimm-backup restore %s --confirm --token %s\n", uploadPath, out.Token)
		return nil
	}

	color.Green("Restore complete")
	fmt.Printf("  Scenario: %s\n", out.Scenario)
	if out.SafetyBackupPath != "" {
		fmt.Printf("  Safety backup: %s\n", out.SafetyBackupPath)
	}
	for _, warning := range out.Warnings {
		color.Yellow("  Warning: %s", warning)
	}
	if out.Report != nil {
		fmt.Printf("  Migrated rows: %d across %d tables\n",
			out.Report.TotalExported(), len(out.Report.ExportedCounts))
		fmt.Printf("  Sequences reset: %d\n", len(out.Report.SequenceResets))
		fmt.Printf("  Elapsed: %s\n", out.Report.Elapsed.Round(time.Millisecond))
	}
	printPreview(out.Preview)
	return nil
}

func printPreview(p *verify.Preview) {
	if p == nil {
		return
	}
	fmt.Printf("  Restored data: %d household(s)\n", len(p.Households))
	for _, h := range p.Households {
		fmt.Printf("    %s (%d user(s))\n", h.Name, len(h.Users))
	}
}

func printRestoreError(err error) {
	color.Red("Restore failed: %v", err)
	if path := errors.SafetyBackupOf(err); path != "" {
		color.Yellow("Recovery point: %s", path)
	}
	if errors.IsRecoverable(err) {
		fmt.Println("Nothing was changed; fix the input and retry.")
	}
}
