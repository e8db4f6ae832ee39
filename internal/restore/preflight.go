package restore

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
)

// diskMultiplier sizes the working headroom for a restore: the upload may
// be decompressed and a safety backup written next to it.
const diskMultiplier = 2.0

// preflightDisk verifies the working directory has room for roughly twice
// the upload before anything destructive starts.
func preflightDisk(workDir string, uploadSize int64) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating work directory %s: %w", workDir, err)
	}

	usage, err := disk.Usage(workDir)
	if err != nil {
		// Space check is advisory on filesystems gopsutil cannot read.
		return nil
	}

	required := uint64(float64(uploadSize) * diskMultiplier)
	if usage.Free < required {
		return &errors.PipelineError{
			Code:     errors.ErrCodeDiskSpace,
			Category: errors.CategoryValidation,
			Message:  "not enough free disk space for the restore",
			Details: fmt.Sprintf("%s requires about %s in %s but only %s is free",
				humanize.Bytes(uint64(uploadSize)), humanize.Bytes(required),
				workDir, humanize.Bytes(usage.Free)),
		}
	}
	return nil
}

// preflightTools checks the external binaries a scenario needs before the
// point of no return.
func preflightTools(run runner.Runner, scenario Scenario, plainSQL bool) error {
	var needed []string
	switch scenario {
	case ScenarioPostgresToPostgres:
		if plainSQL {
			needed = []string{"psql"}
		} else {
			needed = []string{"pg_restore"}
		}
	case ScenarioSQLiteToPostgres:
		// The migration takes its own safety backup with pg_dump, but its
		// absence only costs the safety net, so it is not required here.
	}
	for _, tool := range needed {
		if err := run.LookPath(tool); err != nil {
			return errors.ToolMissing(tool)
		}
	}
	return nil
}
