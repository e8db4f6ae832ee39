package restore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	_ "modernc.org/sqlite"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/guard"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
)

// writeHouseholdDB creates a SQLite file with the given household name so
// tests can tell the live database and the upload apart.
func writeHouseholdDB(t *testing.T, path, household string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE households (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, household_id INTEGER, username TEXT NOT NULL, role TEXT NOT NULL)`,
		`INSERT INTO households (id, name) VALUES (1, '` + household + `')`,
		`INSERT INTO users (id, household_id, username, role) VALUES (1, 1, 'alice', 'admin')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("fixture stmt: %v", err)
		}
	}
}

func newSQLiteDeployment(t *testing.T) (*config.Config, *Orchestrator, *runner.Fake) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DatabaseType: "sqlite",
		SQLitePath:   filepath.Join(dir, "live", "wimm.sqlite3"),
		BackupDir:    filepath.Join(dir, "backups"),
		WorkDir:      filepath.Join(dir, "work"),
		ToolTimeout:  5 * time.Second,
		SessionTTL:   15 * time.Minute,
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeHouseholdDB(t, cfg.SQLitePath, "Live Household")

	log := logger.NewSilent()
	fake := runner.NewFake()
	orch := New(cfg, fake, guard.New(filepath.Join(dir, "guard"), log), log)
	return cfg, orch, fake
}

// Same-engine restores run in one call; no confirmation round trip.
func TestRestoreSQLiteRunsDirectly(t *testing.T) {
	cfg, orch, _ := newSQLiteDeployment(t)
	ctx := context.Background()

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	out, err := orch.Run(ctx, upload, Options{})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if out.NeedsConfirmation {
		t.Fatal("same-engine restore must complete without a confirmation step")
	}
	if out.Scenario != ScenarioSQLiteToSQLite {
		t.Errorf("scenario = %s", out.Scenario)
	}
	if out.SafetyBackupPath == "" {
		t.Error("sqlite safety backup should succeed without external tools")
	}
	if len(out.Preview.Households) != 1 || out.Preview.Households[0].Name != "Uploaded Household" {
		t.Errorf("live database should now hold the uploaded data, got %+v", out.Preview)
	}

	// The live path itself must now be the uploaded data.
	db, err := sql.Open("sqlite", "file:"+cfg.SQLitePath+"?mode=ro")
	if err != nil {
		t.Fatalf("open live: %v", err)
	}
	defer db.Close()
	var name string
	if err := db.QueryRow(`SELECT name FROM households`).Scan(&name); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if name != "Uploaded Household" {
		t.Errorf("live database holds %q, want the uploaded data", name)
	}
	if _, err := os.Stat(cfg.SQLitePath + ".replaced"); !os.IsNotExist(err) {
		t.Error("displaced copy should be removed after successful verification")
	}
}

func TestRestoreCompressedUpload(t *testing.T) {
	_, orch, _ := newSQLiteDeployment(t)
	ctx := context.Background()

	dir := t.TempDir()
	raw := filepath.Join(dir, "upload.sqlite3")
	writeHouseholdDB(t, raw, "Compressed Household")

	upload := raw + ".gz"
	in, err := os.ReadFile(raw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := os.Create(upload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := pgzip.NewWriter(f)
	if _, err := gz.Write(in); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := orch.Run(ctx, upload, Options{})
	if err != nil {
		t.Fatalf("restore of compressed upload: %v", err)
	}
	if out.NeedsConfirmation {
		t.Fatal("same-engine restore must complete without a confirmation step")
	}
	if out.Preview.Households[0].Name != "Compressed Household" {
		t.Errorf("restored data = %+v", out.Preview)
	}
}

// newPostgresDeployment targets a port nothing listens on, so whatever runs
// past classification fails fast at the connection step instead of touching
// a real server.
func newPostgresDeployment(t *testing.T) (*config.Config, *Orchestrator, *runner.Fake) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DatabaseType: "postgres",
		Host:         "127.0.0.1",
		Port:         1,
		User:         "wimm",
		Database:     "wimm",
		BackupDir:    filepath.Join(dir, "backups"),
		WorkDir:      filepath.Join(dir, "work"),
		ToolTimeout:  5 * time.Second,
		SessionTTL:   15 * time.Minute,
	}
	log := logger.NewSilent()
	fake := runner.NewFake()
	fake.MissingTools["pg_dump"] = true
	orch := New(cfg, fake, guard.New(filepath.Join(dir, "guard"), log), log)
	return cfg, orch, fake
}

// The cross-engine migration is the one scenario with a confirmation
// handshake: the first call must change nothing and hand out a token.
func TestMigrationPreviewIssuesToken(t *testing.T) {
	_, orch, _ := newPostgresDeployment(t)

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	out, err := orch.Run(context.Background(), upload, Options{})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !out.NeedsConfirmation {
		t.Fatal("unconfirmed cross-engine call must stop for confirmation")
	}
	if out.Token == "" {
		t.Fatal("confirmation outcome carries no token")
	}
	if out.Scenario != ScenarioSQLiteToPostgres {
		t.Errorf("scenario = %s", out.Scenario)
	}
	if len(out.Preview.Households) != 1 || out.Preview.Households[0].Name != "Uploaded Household" {
		t.Errorf("preview should read the upload, got %+v", out.Preview)
	}
	if !strings.Contains(out.Impact, "replace") {
		t.Errorf("impact message should state the replacement: %q", out.Impact)
	}
}

// The preview and the confirmation run as separate CLI processes; the token
// must survive the boundary. A second orchestrator over the same
// configuration stands in for the second process.
func TestMigrationTokenSharedAcrossProcesses(t *testing.T) {
	cfg, first, _ := newPostgresDeployment(t)
	ctx := context.Background()

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	out, err := first.Run(ctx, upload, Options{})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	log := logger.NewSilent()
	fake := runner.NewFake()
	fake.MissingTools["pg_dump"] = true
	second := New(cfg, fake, guard.New(filepath.Join(cfg.WorkDir, "guard2"), log), log)

	_, err = second.Run(ctx, upload, Options{Confirm: true, Token: out.Token})
	if errors.GetCode(err) == errors.ErrCodeStaleToken {
		t.Fatalf("token issued by one process must redeem in another, got %v", err)
	}
	// The run still fails, but only once it reaches the unreachable server.
	if err == nil || !strings.Contains(err.Error(), "cannot connect") {
		t.Errorf("expected the connection failure, got %v", err)
	}
}

func TestRestoreRejectsBogusToken(t *testing.T) {
	_, orch, _ := newPostgresDeployment(t)

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	_, err := orch.Run(context.Background(), upload, Options{Confirm: true, Token: "made-up"})
	if errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("expected stale token, got %v", err)
	}
}

// A preflight failure on the confirmed call must not burn the token; the
// operator fixes the environment and retries with the same token.
func TestMigrationPreflightFailureKeepsToken(t *testing.T) {
	cfg, orch, _ := newPostgresDeployment(t)
	ctx := context.Background()

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	out, err := orch.Run(ctx, upload, Options{})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	// Point the work directory at a regular file so the disk preflight
	// cannot create it.
	goodWorkDir := cfg.WorkDir
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.WorkDir = blocked

	if _, err := orch.Run(ctx, upload, Options{Confirm: true, Token: out.Token}); err == nil {
		t.Fatal("expected the disk preflight to fail")
	}

	cfg.WorkDir = goodWorkDir
	_, err = orch.Run(ctx, upload, Options{Confirm: true, Token: out.Token})
	if errors.GetCode(err) == errors.ErrCodeStaleToken {
		t.Fatalf("preflight failure must not consume the token, got %v", err)
	}
}

func TestRestoreRejectsEmptyUpload(t *testing.T) {
	_, orch, _ := newSQLiteDeployment(t)

	upload := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(upload, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := orch.Run(context.Background(), upload, Options{})
	if errors.GetCode(err) != errors.ErrCodeEmptyUpload {
		t.Errorf("expected empty upload error, got %v", err)
	}
}

func TestRestoreRejectsUnknownFormat(t *testing.T) {
	_, orch, _ := newSQLiteDeployment(t)

	upload := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(upload, []byte("\xff\xd8\xff\xe0 definitely a photo"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := orch.Run(context.Background(), upload, Options{})
	if errors.GetCode(err) != errors.ErrCodeUnknownFormat {
		t.Errorf("expected unknown format, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Error("classification failures must be recoverable")
	}
}

func TestRestoreRejectsPostgresDumpIntoSQLite(t *testing.T) {
	_, orch, _ := newSQLiteDeployment(t)

	upload := filepath.Join(t.TempDir(), "backup.dump")
	if err := os.WriteFile(upload, append([]byte("PGDMP"), make([]byte, 64)...), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := orch.Run(context.Background(), upload, Options{})
	if errors.GetCode(err) != errors.ErrCodePostgresIntoSQLite {
		t.Errorf("expected unsupported direction, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Error("compatibility failures must be recoverable")
	}
}

func TestRestoreBlockedWhileGuardHeld(t *testing.T) {
	_, orch, _ := newSQLiteDeployment(t)
	ctx := context.Background()

	upload := filepath.Join(t.TempDir(), "upload.sqlite3")
	writeHouseholdDB(t, upload, "Uploaded Household")

	release, err := orch.Guard().Begin(ctx)
	if err != nil {
		t.Fatalf("holding guard: %v", err)
	}
	defer release()

	_, err = orch.Run(ctx, upload, Options{})
	if errors.GetCode(err) != errors.ErrCodeBusy {
		t.Errorf("expected busy, got %v", err)
	}
}

func TestStageUploadDecompresses(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(raw, []byte("hello stage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	gzPath := filepath.Join(dir, "data.txt.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := pgzip.NewWriter(f)
	if _, err := gz.Write([]byte("hello stage")); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	gz.Close()
	f.Close()

	staged, err := stageUpload(gzPath, filepath.Join(dir, "work"), true)
	if err != nil {
		t.Fatalf("stageUpload: %v", err)
	}
	got, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if string(got) != "hello stage" {
		t.Errorf("staged content = %q", got)
	}
	if strings.HasSuffix(staged, ".gz") {
		t.Errorf("staged name should drop the gz suffix: %s", staged)
	}
}

func TestPreflightToolsMissing(t *testing.T) {
	fake := runner.NewFake()
	fake.MissingTools["pg_restore"] = true

	err := preflightTools(fake, ScenarioPostgresToPostgres, false)
	if errors.GetCode(err) != errors.ErrCodeToolMissing {
		t.Errorf("expected tool missing, got %v", err)
	}

	// Plain SQL dumps need psql instead.
	if err := preflightTools(fake, ScenarioPostgresToPostgres, true); err != nil {
		t.Errorf("psql is present, got %v", err)
	}
}

func TestPreflightDiskSmallUpload(t *testing.T) {
	if err := preflightDisk(t.TempDir(), 1024); err != nil {
		t.Errorf("1KiB upload should always fit: %v", err)
	}
}
