// Package database provides engine-specific access to the active
// deployment database for probing, verification and migration.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// Database abstracts the operations the pipeline needs from either engine.
type Database interface {
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	Kind() dbkind.Kind

	// TableNames lists application tables (system tables excluded).
	TableNames(ctx context.Context) ([]string, error)
	// RowCount counts rows in one table.
	RowCount(ctx context.Context, table string) (int64, error)

	// DB exposes the underlying handle for verification queries.
	DB() *sql.DB
}

// New creates a Database for the active engine in the live configuration.
func New(cfg *config.Config, log logger.Logger) (Database, error) {
	kind, err := dbkind.Current(cfg)
	if err != nil {
		return nil, err
	}

	switch kind {
	case dbkind.SQLite:
		return NewSQLite(cfg.SQLitePath, log), nil
	case dbkind.PostgreSQL:
		return NewPostgreSQL(cfg, log), nil
	default:
		return nil, fmt.Errorf("no database implementation for engine %s", kind)
	}
}

// ValidateIdentifier checks that a table name is safe to interpolate into
// SQL. Table names flow from sqlite_master during migration, so a corrupt or
// hostile upload must not be able to smuggle SQL through them.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 chars): %s", name)
	}
	for i, c := range name {
		if i == 0 && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && c != '_' {
			return fmt.Errorf("identifier must start with letter or underscore: %s", name)
		}
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("identifier contains invalid character %q: %s", c, name)
		}
	}
	return nil
}

var dsnPassword = regexp.MustCompile(`password=\S+`)

// sanitizeDSN removes the password from a DSN before it reaches a log line.
func sanitizeDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, "password=***")
}

// quoteIdent double-quotes an already validated identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
