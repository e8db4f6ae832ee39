package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/database"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, connectivity and recent snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

func runStatus(cmd *cobra.Command) error {
	if err := requireValidConfig(); err != nil {
		return err
	}

	kind, err := dbkind.Current(cfg)
	if err != nil {
		return err
	}

	fmt.Println("Deployment")
	fmt.Printf("  Engine:     %s\n", kind)
	if cfg.IsSQLite() {
		fmt.Printf("  Database:   %s\n", cfg.SQLitePath)
	} else {
		fmt.Printf("  Database:   %s@%s:%d/%s\n", cfg.User, cfg.Host, cfg.Port, cfg.Database)
	}
	fmt.Printf("  Backup dir: %s\n", cfg.BackupDir)

	if newGuard().Held() {
		color.Yellow("  Operation:  a backup or restore is in progress")
	} else {
		fmt.Println("  Operation:  idle")
	}

	fmt.Println("\nConnectivity")
	if err := testConnection(cmd); err != nil {
		color.Red("  %v", err)
	}

	fmt.Println("\nRecent snapshots")
	listSnapshots()
	return nil
}

func testConnection(cmd *cobra.Command) error {
	db, err := database.New(cfg, log)
	if err != nil {
		return err
	}
	if err := db.Connect(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tables, err := db.TableNames(cmd.Context())
	if err != nil {
		return err
	}
	color.Green("  Connected (%d application tables)", len(tables))
	return nil
}

func listSnapshots() {
	entries, err := os.ReadDir(cfg.BackupDir)
	if err != nil {
		fmt.Println("  none")
		return
	}

	type snap struct {
		name string
		size int64
		mod  string
	}
	var snaps []snap
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "wimm_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{
			name: e.Name(),
			size: info.Size(),
			mod:  humanize.Time(info.ModTime()),
		})
	}
	if len(snaps) == 0 {
		fmt.Println("  none")
		return
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].name > snaps[j].name })
	if len(snaps) > 10 {
		snaps = snaps[:10]
	}
	for _, s := range snaps {
		fmt.Printf("  %-40s %10s  %s\n", s.name, humanize.Bytes(uint64(s.size)), s.mod)
	}
}
