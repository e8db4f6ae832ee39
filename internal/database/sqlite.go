package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// SQLite implements Database for SQLite using the pure-Go driver.
type SQLite struct {
	path      string
	readOnly  bool
	log       logger.Logger
	db        *sql.DB
	closeOnce sync.Once
}

// NewSQLite creates a new SQLite database instance for the given file.
func NewSQLite(path string, log logger.Logger) *SQLite {
	return &SQLite{
		path: path,
		log:  log,
	}
}

// NewSQLiteReadOnly opens the file with mode=ro, for inspection of uploads
// and snapshots without taking a write lock.
func NewSQLiteReadOnly(path string, log logger.Logger) *SQLite {
	return &SQLite{
		path:     path,
		readOnly: true,
		log:      log,
	}
}

// Connect opens the database file.
func (s *SQLite) Connect(ctx context.Context) error {
	dsn := "file:" + s.path
	if s.readOnly {
		dsn += "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}

	// SQLite handles one writer; keep the pool honest about that.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database %s: %w", s.path, err)
	}

	s.db = db
	s.log.Debug("Opened SQLite database", "path", s.path, "read_only", s.readOnly)
	return nil
}

// Close closes the database. Safe to call twice.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

// Ping checks the connection.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}
	return s.db.PingContext(ctx)
}

// Kind reports the engine kind.
func (s *SQLite) Kind() dbkind.Kind {
	return dbkind.SQLite
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// TableNames lists application tables, skipping sqlite internals.
func (s *SQLite) TableNames(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("not connected to database")
	}

	query := `SELECT name FROM sqlite_master
	          WHERE type = 'table'
	            AND name NOT LIKE 'sqlite_%'
	            AND name NOT LIKE 'schema_migrations%'
	          ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sqlite_master: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// RowCount counts rows in one table.
func (s *SQLite) RowCount(ctx context.Context, table string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("not connected to database")
	}
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns its verdict.
func (s *SQLite) IntegrityCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check could not run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
