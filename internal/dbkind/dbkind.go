// Package dbkind identifies which relational engine a deployment or a
// backup artifact belongs to.
package dbkind

import (
	"fmt"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
)

// Kind is a database engine kind.
type Kind string

const (
	SQLite     Kind = "sqlite"
	PostgreSQL Kind = "postgresql"
	Unknown    Kind = "unknown"
)

// String returns a human-readable engine name.
func (k Kind) String() string {
	switch k {
	case SQLite:
		return "SQLite"
	case PostgreSQL:
		return "PostgreSQL"
	default:
		return "unknown"
	}
}

// Current probes the live configuration and reports the active engine kind.
// Callers must probe fresh at every decision point: a cross-engine migration
// rewrites the configuration mid-process, and a value cached before the
// migration would classify the second round trip of a restore incorrectly.
func Current(cfg *config.Config) (Kind, error) {
	switch {
	case cfg.IsSQLite():
		return SQLite, nil
	case cfg.IsPostgreSQL():
		return PostgreSQL, nil
	default:
		return Unknown, fmt.Errorf("unrecognized database type in configuration: %q", cfg.DatabaseType)
	}
}
