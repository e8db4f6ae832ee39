package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// PostgreSQL implements Database for PostgreSQL using a pgx pool.
type PostgreSQL struct {
	cfg       *config.Config
	log       logger.Logger
	pool      *pgxpool.Pool
	db        *sql.DB
	closeOnce sync.Once
}

// NewPostgreSQL creates a new PostgreSQL database instance.
func NewPostgreSQL(cfg *config.Config, log logger.Logger) *PostgreSQL {
	return &PostgreSQL{
		cfg: cfg,
		log: log,
	}
}

// Connect establishes a pgx connection pool plus a stdlib handle.
func (p *PostgreSQL) Connect(ctx context.Context) error {
	dsn := p.cfg.PostgresDSN()
	p.log.Debug("Connecting to PostgreSQL", "dsn", sanitizeDSN(dsn))

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse pgx config: %w", err)
	}

	// The pipeline is single-flight; a handful of connections is plenty.
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping PostgreSQL at %s:%d: %w", p.cfg.Host, p.cfg.Port, err)
	}

	p.pool = pool
	p.db = stdlib.OpenDBFromPool(pool)

	p.log.Info("Connected to PostgreSQL", "driver", "pgx", "database", p.cfg.Database)
	return nil
}

// Close closes both the pool and the stdlib handle. Safe to call twice.
func (p *PostgreSQL) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.db != nil {
			err = p.db.Close()
		}
		if p.pool != nil {
			p.pool.Close()
		}
	})
	return err
}

// Ping checks the connection.
func (p *PostgreSQL) Ping(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("not connected to database")
	}
	return p.pool.Ping(ctx)
}

// Kind reports the engine kind.
func (p *PostgreSQL) Kind() dbkind.Kind {
	return dbkind.PostgreSQL
}

// DB exposes the stdlib handle.
func (p *PostgreSQL) DB() *sql.DB {
	return p.db
}

// Pool exposes the native pgx pool for bulk operations.
func (p *PostgreSQL) Pool() *pgxpool.Pool {
	return p.pool
}

// TableNames lists application tables in the public schema.
func (p *PostgreSQL) TableNames(ctx context.Context) ([]string, error) {
	if p.db == nil {
		return nil, fmt.Errorf("not connected to database")
	}

	query := `SELECT tablename FROM pg_tables
	          WHERE schemaname = 'public'
	            AND tablename NOT LIKE 'schema_migrations%'
	          ORDER BY tablename`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
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
func (p *PostgreSQL) RowCount(ctx context.Context, table string) (int64, error) {
	if p.db == nil {
		return 0, fmt.Errorf("not connected to database")
	}
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}
