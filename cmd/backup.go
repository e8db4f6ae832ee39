package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
)

var backupCompressFlag bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a snapshot of the current database",
	Long: `Create a snapshot of the currently configured database.

SQLite deployments are snapshotted with VACUUM INTO, which is consistent
even while the application is writing. PostgreSQL deployments are
snapshotted with pg_dump in custom format.

Examples:
  # Snapshot the configured deployment
  wimm-backup backup

  # Compress a SQLite snapshot (pg_dump output is already compressed)
  wimm-backup backup --compress`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd)
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupCompressFlag, "compress", false, "gzip-compress SQLite snapshots")
}

func runBackup(cmd *cobra.Command) error {
	if err := requireValidConfig(); err != nil {
		return err
	}
	if backupCompressFlag {
		cfg.CompressSnapshot = true
	}

	kind, err := dbkind.Current(cfg)
	if err != nil {
		return err
	}

	g := newGuard()
	release, err := g.Begin(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	art, err := newCreator().Create(cmd.Context(), kind)
	if err != nil {
		return err
	}

	color.Green("Snapshot created")
	fmt.Printf("  Path: %s\n", art.Path)
	fmt.Printf("  Kind: %s\n", art.Kind)
	fmt.Printf("  Size: %s\n", humanize.Bytes(uint64(art.Size)))
	return nil
}
