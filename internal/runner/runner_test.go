package runner

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestExecCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	r := NewExec()
	res, err := r.Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	r := NewExec()
	res, err := r.Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected error for exit 3")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "broken") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecTimeoutKills(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	r := NewExec()
	start := time.Now()
	res, err := r.Run(context.Background(), Spec{
		Name:    "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed promptly, took %v", elapsed)
	}
}

func TestFakeRecordsCalls(t *testing.T) {
	f := NewFake()
	f.Results["pg_dump"] = Result{Stdout: "ok"}

	res, err := f.Run(context.Background(), Spec{Name: "pg_dump", Args: []string{"-Fc"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "ok" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if len(f.CallsTo("pg_dump")) != 1 {
		t.Errorf("expected 1 recorded call")
	}

	f.MissingTools["pg_restore"] = true
	if err := f.LookPath("pg_restore"); err == nil {
		t.Error("expected missing tool error")
	}
	if err := f.LookPath("pg_dump"); err != nil {
		t.Errorf("LookPath(pg_dump): %v", err)
	}
}

func TestRedact(t *testing.T) {
	s := Redact([]string{"env", "PGPASSWORD=hunter2", "pg_dump"})
	if strings.Contains(s, "hunter2") {
		t.Errorf("password leaked: %s", s)
	}
	if !strings.Contains(s, "PGPASSWORD=***") {
		t.Errorf("redaction marker missing: %s", s)
	}
}
