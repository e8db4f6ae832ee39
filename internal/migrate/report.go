package migrate

import "time"

// Report is the operator-facing outcome of one SQLite to PostgreSQL
// migration. It is diagnostics only; nothing branches on it.
type Report struct {
	ExportedCounts map[string]int64 `json:"exported_counts"`
	ImportedCounts map[string]int64 `json:"imported_counts"`
	SequenceResets []string         `json:"sequence_resets"`
	Warnings       []string         `json:"warnings"`
	// SafetyBackupPath names the pre-migration snapshot of the PostgreSQL
	// database. Empty when the safety backup failed (recorded in Warnings).
	SafetyBackupPath string        `json:"safety_backup_path,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
}

func newReport() *Report {
	return &Report{
		ExportedCounts: make(map[string]int64),
		ImportedCounts: make(map[string]int64),
	}
}

// TotalExported sums exported rows across tables.
func (r *Report) TotalExported() int64 {
	var n int64
	for _, c := range r.ExportedCounts {
		n += c
	}
	return n
}

// Balanced reports whether every table imported exactly what it exported.
func (r *Report) Balanced() bool {
	for table, exported := range r.ExportedCounts {
		if r.ImportedCounts[table] != exported {
			return false
		}
	}
	return true
}
