// Package schema holds the canonical application schema and replays it
// onto an empty PostgreSQL database during cross-engine migration.
package schema

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Tables lists the application tables in foreign-key order: parents before
// children. Export and import both walk this list so that bulk loads never
// trip FK checks, and the migration report stays in a stable order.
var Tables = []string{
	"households",
	"users",
	"categories",
	"accounts",
	"expenses",
	"recurring_expenses",
}

// SerialTables maps each table with a serial primary key to that column.
// After a bulk load with explicit ids the backing sequences must be reset,
// or the next organic insert would collide.
var SerialTables = map[string]string{
	"households":         "id",
	"users":              "id",
	"categories":         "id",
	"accounts":           "id",
	"expenses":           "id",
	"recurring_expenses": "id",
}

// Apply replays all migrations against the given PostgreSQL database,
// equivalent to migrating up from empty.
func Apply(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema replay failed: %w", err)
	}
	return nil
}
