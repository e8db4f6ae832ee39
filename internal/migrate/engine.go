// Package migrate performs the one-way SQLite to PostgreSQL data
// migration: export, schema rebuild, import, sequence repair,
// verification. Destructive, and only reachable after an explicit
// confirmation.
package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/database"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/guard"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/schema"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/snapshot"
)

// Engine migrates a SQLite backup into the active PostgreSQL deployment.
type Engine struct {
	cfg     *config.Config
	creator *snapshot.Creator
	guard   *guard.Guard
	log     logger.Logger
}

// NewEngine creates a migration engine.
func NewEngine(cfg *config.Config, run runner.Runner, g *guard.Guard, log logger.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		creator: snapshot.NewCreator(cfg, run, log),
		guard:   g,
		log:     log,
	}
}

// Run executes the migration. Steps 1-4 change nothing and may abort
// freely; dropping the target schema is the point of no return, after which
// any failure is reported together with the safety backup location.
func (e *Engine) Run(ctx context.Context, sqlitePath string) (*Report, error) {
	op := e.log.StartOperation("sqlite-to-postgres migration")
	start := time.Now()
	report := newReport()
	// Failure reports carry the elapsed time too.
	defer func() { report.Elapsed = time.Since(start) }()

	warn := func(msg string) {
		report.Warnings = append(report.Warnings, msg)
		e.log.Warn(msg)
	}

	// Step 1: structural integrity of the upload. Nothing has happened yet.
	src := database.NewSQLiteReadOnly(sqlitePath, e.log)
	if err := src.Connect(ctx); err != nil {
		return nil, errors.CorruptUpload(sqlitePath, err)
	}
	defer func() { _ = src.Close() }()

	if err := src.IntegrityCheck(ctx); err != nil {
		op.Fail("upload failed integrity check")
		return nil, errors.CorruptUpload(sqlitePath, err)
	}
	op.Update("upload passed integrity check")

	// Step 2: safety net. A failure here is a warning, not a stop.
	if art, err := e.creator.Create(ctx, dbkind.PostgreSQL); err != nil {
		warn(fmt.Sprintf("safety backup of current PostgreSQL database failed: %v", err))
	} else {
		report.SafetyBackupPath = art.Path
		op.Update("safety backup created", "path", art.Path)
	}

	// Step 3: exclusive access.
	release, err := e.guard.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 4: export everything before touching the target.
	tables, err := exportTables(ctx, src.DB(), warn)
	if err != nil {
		op.Fail("export failed")
		return report, errors.CorruptUpload(sqlitePath, err)
	}
	for _, t := range tables {
		report.ExportedCounts[t.name] = int64(len(t.rows))
	}
	op.Update("export complete", "tables", len(tables), "rows", report.TotalExported())

	target := database.NewPostgreSQL(e.cfg, e.log)
	if err := target.Connect(ctx); err != nil {
		// Still before the point of no return.
		return report, fmt.Errorf("cannot connect to target PostgreSQL: %w", err)
	}
	defer func() { _ = target.Close() }()

	// Step 5: point of no return.
	if err := dropApplicationSchema(ctx, target); err != nil {
		return report, e.destructive(op, report, "dropping existing schema failed", err)
	}
	op.Update("existing schema dropped")

	// Step 6: replay canonical migrations from empty.
	if err := schema.Apply(target.DB()); err != nil {
		return report, e.destructive(op, report, "schema rebuild failed", err)
	}

	// Step 7: bulk import with explicit ids.
	for _, t := range tables {
		imported, err := importTable(ctx, target, t)
		report.ImportedCounts[t.name] = imported
		if err != nil {
			return report, e.destructive(op, report,
				fmt.Sprintf("import into %s failed after %d rows", t.name, imported), err)
		}
	}
	op.Update("import complete")

	// Step 8: sequence repair. Bulk loads with explicit primary keys do not
	// advance the backing sequences, and the next organic insert would
	// collide without this.
	resets, err := resetSequences(ctx, target)
	report.SequenceResets = resets
	if err != nil {
		return report, e.destructive(op, report, "sequence reset failed", err)
	}

	// Step 9: read back and compare counts on both sides.
	if err := e.verifyCounts(ctx, target, report); err != nil {
		return report, err
	}

	op.Complete("migration finished",
		"tables", len(tables),
		"rows", report.TotalExported(),
		"sequences", len(report.SequenceResets))
	return report, nil
}

// destructive wraps a failure past the point of no return so the safety
// backup location is always on the error.
func (e *Engine) destructive(op logger.OperationLogger, report *Report, msg string, cause error) error {
	op.Fail(msg)
	return errors.DestructiveFailed(errors.ErrCodeMigrationFailed, msg, report.SafetyBackupPath, cause)
}

// verifyCounts compares imported row counts against the export, reading the
// live table counts rather than trusting the import bookkeeping.
func (e *Engine) verifyCounts(ctx context.Context, target *database.PostgreSQL, report *Report) error {
	var result *multierror.Error
	for table, exported := range report.ExportedCounts {
		actual, err := target.RowCount(ctx, table)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("counting %s: %w", table, err))
			continue
		}
		report.ImportedCounts[table] = actual
		if actual != exported {
			result = multierror.Append(result,
				fmt.Errorf("table %s: exported %d rows but target holds %d", table, exported, actual))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.DestructiveFailed(errors.ErrCodeCountMismatch,
			"post-migration verification failed", report.SafetyBackupPath, err)
	}
	return nil
}

// dropApplicationSchema destroys all application objects with a cascading
// drop of the public schema.
func dropApplicationSchema(ctx context.Context, target *database.PostgreSQL) error {
	stmts := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
	}
	for _, stmt := range stmts {
		if _, err := target.Pool().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// importTable loads one exported table inside a transaction, preserving the
// source ids so foreign keys keep pointing at the same rows.
func importTable(ctx context.Context, target *database.PostgreSQL, t tableData) (int64, error) {
	if len(t.rows) == 0 {
		return 0, nil
	}

	stmt, err := insertStatement(t)
	if err != nil {
		return 0, err
	}

	tx, err := target.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer func() { _ = prepared.Close() }()

	var imported int64
	for _, row := range t.rows {
		if _, err := prepared.ExecContext(ctx, row...); err != nil {
			return imported, fmt.Errorf("row %d: %w", imported+1, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}

// insertStatement builds the positional-placeholder insert for a table,
// validating column names before interpolating them.
func insertStatement(t tableData) (string, error) {
	placeholders := make([]string, len(t.columns))
	quoted := make([]string, len(t.columns))
	for i, col := range t.columns {
		if err := database.ValidateIdentifier(col); err != nil {
			return "", err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		quoted[i] = `"` + col + `"`
	}
	return fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		t.name, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")), nil
}

// resetSequences moves every serial sequence past the highest imported id.
func resetSequences(ctx context.Context, target *database.PostgreSQL) ([]string, error) {
	var resets []string
	for _, table := range schema.Tables {
		column, ok := schema.SerialTables[table]
		if !ok {
			continue
		}
		// setval(..., max+1, false) makes the next nextval() return max+1;
		// COALESCE keeps empty tables starting from 1.
		stmt := fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE(MAX(%s), 0) + 1, false) FROM "%s"`,
			table, column, column, table)
		if _, err := target.Pool().Exec(ctx, stmt); err != nil {
			return resets, fmt.Errorf("resetting sequence of %s: %w", table, err)
		}
		resets = append(resets, table)
	}
	return resets, nil
}
