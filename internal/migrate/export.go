package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/database"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/schema"
)

// tableData is the engine-neutral serialized form of one table: column
// names in source order plus raw row values. Relationships survive because
// every row keeps its explicit id and foreign keys.
type tableData struct {
	name    string
	columns []string
	rows    [][]any
}

// exportTables reads every canonical application table present in the
// uploaded SQLite file, in foreign-key order. Canonical tables missing from
// the upload (older backups) are skipped with a warning; unknown extra
// tables are warned about because the migration will not carry them.
func exportTables(ctx context.Context, db *sql.DB, warn func(string)) ([]tableData, error) {
	present := make(map[string]bool)
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("listing tables in upload: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, err
		}
		present[name] = true
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	canonical := make(map[string]bool, len(schema.Tables))
	for _, t := range schema.Tables {
		canonical[t] = true
	}
	for name := range present {
		if !canonical[name] && name != "schema_migrations" {
			warn(fmt.Sprintf("table %q in upload is not part of the application schema and will not be migrated", name))
		}
	}

	var out []tableData
	for _, table := range schema.Tables {
		if !present[table] {
			warn(fmt.Sprintf("table %q missing from upload; skipped", table))
			continue
		}
		data, err := exportTable(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", table, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func exportTable(ctx context.Context, db *sql.DB, table string) (tableData, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return tableData{}, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" ORDER BY id`, table))
	if err != nil {
		return tableData{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return tableData{}, err
	}

	data := tableData{name: table, columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return tableData{}, err
		}
		data.rows = append(data.rows, coerceRow(table, columns, values))
	}
	return data, rows.Err()
}

// boolColumns maps tables to columns that are BOOLEAN in the canonical
// schema. SQLite stores them as 0/1 integers, which PostgreSQL will not
// accept as bool parameters without this conversion.
var boolColumns = map[string]map[string]bool{
	"recurring_expenses": {"active": true},
}

func coerceRow(table string, columns []string, values []any) []any {
	bools := boolColumns[table]
	if bools == nil {
		return values
	}
	for i, col := range columns {
		if !bools[col] {
			continue
		}
		switch v := values[i].(type) {
		case int64:
			values[i] = v != 0
		case bool:
			// already usable
		}
	}
	return values
}
