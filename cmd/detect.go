package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/detect"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
)

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "Classify a backup file without touching any database",
	Long: `Classify a backup file by content. The file extension is ignored;
classification looks at the actual bytes, transparently handling gzip
compression.

Example:
  wimm-backup detect mystery-upload.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd, args[0])
	},
}

func runDetect(cmd *cobra.Command, path string) error {
	res := detect.Detect(cmd.Context(), path)
	if res.Kind == dbkind.Unknown {
		color.Red("Unrecognized format")
		return errors.UnknownFormat(path)
	}

	color.Green("Recognized backup")
	fmt.Printf("  Kind:       %s\n", res.Kind)
	fmt.Printf("  Confidence: %s\n", res.Confidence)
	fmt.Printf("  Size:       %s\n", humanize.Bytes(uint64(res.Size)))
	if res.Compressed {
		fmt.Println("  Compressed: gzip")
	}
	if res.PlainSQL {
		fmt.Println("  Format:     plain SQL dump (restored via psql)")
	}
	return nil
}
