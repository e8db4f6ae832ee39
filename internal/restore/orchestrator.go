package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/detect"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/guard"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/migrate"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/runner"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/snapshot"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/verify"
)

// Options carries the confirmation state of a restore request. Only the
// cross-engine migration needs it; same-engine restores run directly.
type Options struct {
	// Confirm executes the destructive cross-engine migration. Without it
	// the orchestrator stops after classification and returns a
	// confirmation token.
	Confirm bool
	// Token must be a token issued by a prior unconfirmed call.
	Token string
}

// Outcome is what a restore call produced: either a confirmation request or
// the result of a completed restore.
type Outcome struct {
	Scenario Scenario

	// NeedsConfirmation is set when a cross-engine request stopped before
	// the destructive step. Token and Impact are only meaningful then.
	NeedsConfirmation bool
	Token             string
	Impact            string

	// Preview is the data read back after a completed restore (or, on an
	// unconfirmed SQLite upload, read out of the upload itself).
	Preview *verify.Preview
	// Report is set for the cross-engine migration scenario.
	Report           *migrate.Report
	SafetyBackupPath string
	Warnings         []string
}

// Orchestrator drives the whole restore pipeline.
type Orchestrator struct {
	cfg      *config.Config
	run      runner.Runner
	log      logger.Logger
	guard    *guard.Guard
	creator  *snapshot.Creator
	tokens   *TokenStore
	migrator *migrate.Engine
}

// New creates an orchestrator sharing the given guard, so restores and
// standalone backups exclude each other.
func New(cfg *config.Config, run runner.Runner, g *guard.Guard, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		run:      run,
		log:      log,
		guard:    g,
		creator:  snapshot.NewCreator(cfg, run, log),
		tokens:   NewTokenStore(filepath.Join(cfg.GetEffectiveWorkDir(), "sessions"), cfg.SessionTTL),
		migrator: migrate.NewEngine(cfg, run, g, log),
	}
}

// Guard exposes the shared operation guard, mainly for status reporting.
func (o *Orchestrator) Guard() *guard.Guard {
	return o.guard
}

// Run classifies the upload against the current deployment and acts on the
// decided scenario. Same-engine restores execute immediately; the
// cross-engine migration pauses for confirmation first, and the confirmed
// call re-classifies everything from scratch so a configuration change
// between the two requests is caught rather than acted on.
func (o *Orchestrator) Run(ctx context.Context, uploadPath string, opts Options) (*Outcome, error) {
	stat, err := os.Stat(uploadPath)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if stat.Size() == 0 {
		return nil, errors.EmptyUpload(uploadPath)
	}

	res := detect.Detect(ctx, uploadPath)
	if res.Kind == dbkind.Unknown {
		return nil, errors.UnknownFormat(uploadPath)
	}

	deployment, err := dbkind.Current(o.cfg)
	if err != nil {
		return nil, err
	}

	scenario, err := Decide(res.Kind, deployment)
	if err != nil {
		return nil, err
	}
	o.log.Info("Upload classified",
		"backup", res.Kind, "deployment", deployment,
		"scenario", scenario, "confidence", res.Confidence)

	switch scenario {
	case ScenarioSQLiteToSQLite, ScenarioPostgresToPostgres:
		if err := preflightDisk(o.cfg.GetEffectiveWorkDir(), stat.Size()); err != nil {
			return nil, err
		}
		if err := preflightTools(o.run, scenario, res.PlainSQL); err != nil {
			return nil, err
		}
		if scenario == ScenarioSQLiteToSQLite {
			return o.restoreSQLite(ctx, uploadPath, res)
		}
		return o.restorePostgres(ctx, uploadPath, res)
	}

	// Cross-engine migration: two round trips.
	if !opts.Confirm {
		return o.preview(ctx, uploadPath, res, scenario)
	}

	// Preflights run before the token is consumed, so a fixable environment
	// problem does not force the operator back through the preview.
	if err := preflightDisk(o.cfg.GetEffectiveWorkDir(), stat.Size()); err != nil {
		return nil, err
	}
	if err := preflightTools(o.run, scenario, res.PlainSQL); err != nil {
		return nil, err
	}

	issued, err := o.tokens.Redeem(opts.Token, uploadPath)
	if err != nil {
		return nil, err
	}
	if issued != scenario {
		return nil, &errors.PipelineError{
			Code:     errors.ErrCodeEngineMismatch,
			Category: errors.CategoryCompatibility,
			Message:  "deployment changed between preview and confirmation",
			Details: fmt.Sprintf("token was issued for scenario %s but the current configuration requires %s; re-upload to start over",
				issued, scenario),
		}
	}

	return o.migrateToPostgres(ctx, uploadPath)
}

// preview validates a cross-engine upload without changing anything, then
// issues a confirmation token describing what a confirmed call would destroy.
func (o *Orchestrator) preview(ctx context.Context, uploadPath string, res detect.Result, scenario Scenario) (*Outcome, error) {
	out := &Outcome{Scenario: scenario, NeedsConfirmation: true}

	// Cross-engine uploads are SQLite files. Stage so a compressed upload
	// can be opened, then read it back for the impact summary.
	staged, err := stageUpload(uploadPath, o.cfg.GetEffectiveWorkDir(), res.Compressed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(staged) }()

	preview, err := verify.SQLiteFile(ctx, staged, o.log)
	if err != nil {
		return nil, errors.CorruptUpload(uploadPath, err)
	}
	out.Preview = preview

	out.Impact = o.impactMessage(ctx, res, scenario)
	token, err := o.tokens.Issue(uploadPath, scenario)
	if err != nil {
		return nil, err
	}
	out.Token = token
	return out, nil
}

// impactMessage describes what confirming will replace, including a
// best-effort count of the data currently live.
func (o *Orchestrator) impactMessage(ctx context.Context, res detect.Result, scenario Scenario) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirming will replace the current database with the uploaded %s backup (%s).",
		res.Kind, humanize.Bytes(uint64(res.Size)))
	if scenario == ScenarioSQLiteToPostgres {
		b.WriteString(" The SQLite data will be migrated into PostgreSQL table by table.")
	}

	// Best effort and bounded: the live database may be unreachable, and
	// the preview must not hang on it.
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if preview, err := o.currentPreview(cctx); err == nil {
		var users int
		for _, h := range preview.Households {
			users += len(h.Users)
		}
		fmt.Fprintf(&b, " Currently live: %d household(s) with %d user(s).",
			len(preview.Households), users)
	}
	return b.String()
}

func (o *Orchestrator) currentPreview(ctx context.Context) (*verify.Preview, error) {
	if o.cfg.IsSQLite() {
		return verify.SQLiteFile(ctx, o.cfg.SQLitePath, o.log)
	}
	return verify.Postgres(ctx, o.cfg, o.log)
}

// validateDump runs pg_restore --list over a staged custom-format dump,
// which reads the table of contents without touching any database.
func (o *Orchestrator) validateDump(ctx context.Context, uploadPath, staged string) error {
	r, err := o.run.Run(ctx, runner.Spec{
		Name:    "pg_restore",
		Args:    []string{"--list", staged},
		Timeout: o.cfg.ToolTimeout,
	})
	if err != nil {
		if r.TimedOut {
			return errors.ToolTimeout("pg_restore", err)
		}
		return errors.CorruptUpload(uploadPath, fmt.Errorf("pg_restore --list: %s", strings.TrimSpace(r.Stderr)))
	}
	return nil
}

// restoreSQLite stages the upload next to the live file, verifies it, and
// swaps it in with an atomic rename. The previous file is kept until the
// swapped-in database verifies.
func (o *Orchestrator) restoreSQLite(ctx context.Context, uploadPath string, res detect.Result) (*Outcome, error) {
	out := &Outcome{Scenario: ScenarioSQLiteToSQLite}
	op := o.log.StartOperation("sqlite restore")

	release, err := o.guard.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if art, err := o.creator.Create(ctx, dbkind.SQLite); err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("safety backup failed: %v", err))
		o.log.Warn("Proceeding without a safety backup", "error", err)
	} else {
		out.SafetyBackupPath = art.Path
	}

	live := o.cfg.SQLitePath
	staged, err := stageUpload(uploadPath, sqliteWorkDir(live), res.Compressed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(staged) }()

	// Verify the staged copy before the live file is touched.
	if _, err := verify.SQLiteFile(ctx, staged, o.log); err != nil {
		op.Fail("staged upload failed verification")
		return nil, errors.CorruptUpload(uploadPath, err)
	}

	displaced := live + ".replaced"
	swapped := false
	if _, err := os.Stat(live); err == nil {
		if err := os.Rename(live, displaced); err != nil {
			op.Fail("could not displace live database")
			return nil, fmt.Errorf("displacing live database: %w", err)
		}
		swapped = true
	}

	if err := os.Rename(staged, live); err != nil {
		if swapped {
			_ = os.Rename(displaced, live)
		}
		op.Fail("swap failed")
		return nil, errors.DestructiveFailed(errors.ErrCodeRestoreFailed,
			"could not move the verified upload into place", out.SafetyBackupPath, err)
	}
	// The file swap also invalidates any stale -wal/-shm sidecars.
	_ = os.Remove(live + "-wal")
	_ = os.Remove(live + "-shm")

	preview, err := verify.SQLiteFile(ctx, live, o.log)
	if err != nil {
		if swapped {
			_ = os.Rename(displaced, live)
		}
		op.Fail("restored database failed verification")
		return nil, errors.DestructiveFailed(errors.ErrCodeRestoreFailed,
			"restored database failed verification and was rolled back", out.SafetyBackupPath, err)
	}
	if swapped {
		_ = os.Remove(displaced)
	}

	out.Preview = preview
	op.Complete("restore finished", "households", len(preview.Households))
	return out, nil
}

// restorePostgres replays the dump into the configured database. Custom
// dumps go through pg_restore --clean --if-exists; plain SQL dumps go
// through psql with ON_ERROR_STOP.
func (o *Orchestrator) restorePostgres(ctx context.Context, uploadPath string, res detect.Result) (*Outcome, error) {
	out := &Outcome{Scenario: ScenarioPostgresToPostgres}
	op := o.log.StartOperation("postgres restore")

	staged, err := stageUpload(uploadPath, o.cfg.GetEffectiveWorkDir(), res.Compressed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(staged) }()

	// Check the dump's table of contents before anything is locked or
	// replaced; a corrupt dump must change nothing.
	if !res.PlainSQL {
		if err := o.validateDump(ctx, uploadPath, staged); err != nil {
			op.Fail("upload failed dump validation")
			return nil, err
		}
	} else {
		out.Warnings = append(out.Warnings,
			"plain SQL dumps are matched on header text only; the restore fails cleanly if the content is not valid SQL")
	}

	release, err := o.guard.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if art, err := o.creator.Create(ctx, dbkind.PostgreSQL); err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("safety backup failed: %v", err))
		o.log.Warn("Proceeding without a safety backup", "error", err)
	} else {
		out.SafetyBackupPath = art.Path
	}

	spec := runner.Spec{Timeout: o.cfg.ToolTimeout}
	conn := []string{
		"-h", o.cfg.Host,
		"-p", fmt.Sprintf("%d", o.cfg.Port),
		"-U", o.cfg.User,
		"-d", o.cfg.Database,
	}
	if res.PlainSQL {
		spec.Name = "psql"
		spec.Args = append(conn, "--set", "ON_ERROR_STOP=1", "--file", staged)
	} else {
		spec.Name = "pg_restore"
		spec.Args = append(conn, "--clean", "--if-exists", "--no-owner", "--exit-on-error", staged)
	}
	if o.cfg.Password != "" {
		spec.Env = []string{"PGPASSWORD=" + o.cfg.Password}
	}

	r, err := o.run.Run(ctx, spec)
	if err != nil {
		op.Fail(spec.Name+" failed", "exit_code", r.ExitCode)
		var cause error
		if r.TimedOut {
			cause = errors.ToolTimeout(spec.Name, err)
		} else {
			cause = errors.ToolFailed(spec.Name, r.ExitCode, strings.TrimSpace(r.Stderr), err)
		}
		return nil, errors.DestructiveFailed(errors.ErrCodeRestoreFailed,
			"restore left the database in an unknown state", out.SafetyBackupPath, cause)
	}

	preview, err := verify.Postgres(ctx, o.cfg, o.log)
	if err != nil {
		op.Fail("restored database failed verification")
		return nil, errors.DestructiveFailed(errors.ErrCodeRestoreFailed,
			"restored database failed verification", out.SafetyBackupPath, err)
	}

	out.Preview = preview
	op.Complete("restore finished", "households", len(preview.Households))
	return out, nil
}

// migrateToPostgres hands off to the migration engine, which manages its
// own guard acquisition and safety backup, then reads the result back.
func (o *Orchestrator) migrateToPostgres(ctx context.Context, uploadPath string) (*Outcome, error) {
	report, err := o.migrator.Run(ctx, uploadPath)
	if err != nil {
		return nil, err
	}

	preview, err := verify.Postgres(ctx, o.cfg, o.log)
	if err != nil {
		return nil, errors.DestructiveFailed(errors.ErrCodeMigrationFailed,
			"migrated database failed verification", report.SafetyBackupPath, err)
	}

	return &Outcome{
		Scenario:         ScenarioSQLiteToPostgres,
		Preview:          preview,
		Report:           report,
		SafetyBackupPath: report.SafetyBackupPath,
		Warnings:         report.Warnings,
	}, nil
}

// sqliteWorkDir stages next to the live file so the swap rename never
// crosses a filesystem boundary.
func sqliteWorkDir(livePath string) string {
	return filepath.Dir(livePath)
}
