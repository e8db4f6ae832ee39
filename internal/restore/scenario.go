// Package restore orchestrates database restores: it classifies the
// uploaded backup, matches it against the currently configured engine,
// walks the operator through confirmation, and drives the engine-specific
// restore or the cross-engine migration.
package restore

import (
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
)

// Scenario is one cell of the backup-kind x deployment-kind matrix.
type Scenario string

const (
	// ScenarioSQLiteToSQLite swaps the live database file for the upload.
	ScenarioSQLiteToSQLite Scenario = "sqlite-to-sqlite"
	// ScenarioPostgresToPostgres replays the dump with pg_restore or psql.
	ScenarioPostgresToPostgres Scenario = "postgres-to-postgres"
	// ScenarioSQLiteToPostgres migrates the SQLite data into PostgreSQL.
	ScenarioSQLiteToPostgres Scenario = "sqlite-to-postgres"
)

// Decide maps a classified backup and the current deployment engine onto a
// scenario. The one rejected cell, a PostgreSQL dump against a SQLite
// deployment, comes back as a compatibility error.
func Decide(backup, deployment dbkind.Kind) (Scenario, error) {
	switch {
	case backup == dbkind.SQLite && deployment == dbkind.SQLite:
		return ScenarioSQLiteToSQLite, nil
	case backup == dbkind.PostgreSQL && deployment == dbkind.PostgreSQL:
		return ScenarioPostgresToPostgres, nil
	case backup == dbkind.SQLite && deployment == dbkind.PostgreSQL:
		return ScenarioSQLiteToPostgres, nil
	case backup == dbkind.PostgreSQL && deployment == dbkind.SQLite:
		return "", errors.UnsupportedDirection()
	}
	return "", errors.UnknownFormat(string(backup))
}

// Destructive reports whether the scenario replaces the current data. All
// supported scenarios do; the distinction exists so callers do not have to
// hard-code it.
func (s Scenario) Destructive() bool {
	return s == ScenarioSQLiteToSQLite ||
		s == ScenarioPostgresToPostgres ||
		s == ScenarioSQLiteToPostgres
}
