// Package snapshot produces consistent, engine-appropriate backup
// artifacts of the currently active database. It is used both for the
// explicit backup feature and as the pre-restore safety net.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"
	_ "modernc.org/sqlite"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
)

// Artifact describes one backup file. Immutable once created.
type Artifact struct {
	Path      string
	Kind      dbkind.Kind
	Size      int64
	CreatedAt time.Time
}

// Creator produces backup artifacts of the active database.
type Creator struct {
	cfg *config.Config
	run runner.Runner
	log logger.Logger
}

// NewCreator creates a snapshot creator.
func NewCreator(cfg *config.Config, run runner.Runner, log logger.Logger) *Creator {
	return &Creator{
		cfg: cfg,
		run: run,
		log: log,
	}
}

// Create snapshots the active database of the given kind into the backup
// directory. It does not assume it owns the request lifecycle: it takes no
// locks and quiesces nothing, so it can run opportunistically as a safety
// net inside a larger operation.
func (c *Creator) Create(ctx context.Context, kind dbkind.Kind) (*Artifact, error) {
	if err := os.MkdirAll(c.cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create backup directory: %w", err)
	}

	switch kind {
	case dbkind.SQLite:
		return c.createSQLite(ctx)
	case dbkind.PostgreSQL:
		return c.createPostgres(ctx)
	default:
		return nil, fmt.Errorf("cannot snapshot unknown engine kind %q", kind)
	}
}

// createSQLite snapshots via VACUUM INTO, which produces a consistent copy
// even with WAL mode and concurrent readers. A raw file copy could capture a
// torn write; VACUUM INTO cannot.
func (c *Creator) createSQLite(ctx context.Context) (*Artifact, error) {
	op := c.log.StartOperation("sqlite snapshot")

	src, err := sql.Open("sqlite", "file:"+c.cfg.SQLitePath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("cannot open active database: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := src.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("active database not readable: %w", err)
	}

	dest := filepath.Join(c.cfg.BackupDir, fmt.Sprintf("wimm_%s.sqlite3", timestamp()))
	// VACUUM INTO refuses to overwrite; the timestamped name avoids that,
	// but clean up a half-written target from a previous crash just in case.
	_ = os.Remove(dest)

	if _, err := src.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escapeSQLString(dest))); err != nil {
		return nil, fmt.Errorf("VACUUM INTO failed: %w", err)
	}

	if c.cfg.CompressSnapshot {
		gzPath, err := gzipFile(dest)
		if err != nil {
			// The uncompressed snapshot is intact; report it instead.
			c.log.Warn("Snapshot compression failed, keeping raw copy", "error", err)
		} else {
			_ = os.Remove(dest)
			dest = gzPath
		}
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("snapshot not created: %w", err)
	}

	op.Complete("snapshot written", "path", dest, "size", humanize.Bytes(uint64(stat.Size())))
	return &Artifact{
		Path:      dest,
		Kind:      dbkind.SQLite,
		Size:      stat.Size(),
		CreatedAt: time.Now(),
	}, nil
}

// createPostgres snapshots via pg_dump in custom format (compressed and
// restorable with pg_restore), bounded by the configured tool timeout.
func (c *Creator) createPostgres(ctx context.Context) (*Artifact, error) {
	op := c.log.StartOperation("postgres snapshot")

	if err := c.run.LookPath("pg_dump"); err != nil {
		return nil, errors.ToolMissing("pg_dump").WithCause(err)
	}

	dest := filepath.Join(c.cfg.BackupDir, fmt.Sprintf("wimm_%s.dump", timestamp()))

	spec := runner.Spec{
		Name: "pg_dump",
		Args: []string{
			"-h", c.cfg.Host,
			"-p", fmt.Sprintf("%d", c.cfg.Port),
			"-U", c.cfg.User,
			"-d", c.cfg.Database,
			"--format=custom",
			"--compress=6",
			"--file", dest,
		},
		Timeout: c.cfg.ToolTimeout,
	}
	if c.cfg.Password != "" {
		spec.Env = []string{"PGPASSWORD=" + c.cfg.Password}
	}

	res, err := c.run.Run(ctx, spec)
	if err != nil {
		_ = os.Remove(dest)
		op.Fail("pg_dump failed", "exit_code", res.ExitCode)
		if res.TimedOut {
			return nil, errors.ToolTimeout("pg_dump", err)
		}
		return nil, errors.ToolFailed("pg_dump", res.ExitCode, strings.TrimSpace(res.Stderr), err)
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("pg_dump reported success but wrote no file: %w", err)
	}

	op.Complete("snapshot written", "path", dest, "size", humanize.Bytes(uint64(stat.Size())))
	return &Artifact{
		Path:      dest,
		Kind:      dbkind.PostgreSQL,
		Size:      stat.Size(),
		CreatedAt: time.Now(),
	}, nil
}

func gzipFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return "", err
	}

	gz := pgzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		_ = os.Remove(gzPath)
		return "", err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(gzPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(gzPath)
		return "", err
	}
	return gzPath, nil
}

func timestamp() string {
	return time.Now().Format("20060102_150405")
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
