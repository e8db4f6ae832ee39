// Package runner executes external database tools (pg_dump, pg_restore,
// psql) with bounded timeouts and captured output. It is an injected
// capability so the pipeline can be tested without real binaries.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Spec describes one external tool invocation.
type Spec struct {
	Name    string
	Args    []string
	Env     []string // appended to the inherited environment
	Timeout time.Duration
}

// Result captures the outcome of a tool invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
	// LookPath reports whether a tool is installed.
	LookPath(name string) error
}

// Exec is the real Runner backed by os/exec.
type Exec struct{}

// NewExec creates the real process runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes the command, killing the whole process tree on timeout or
// cancellation. Stdout and stderr are captured separately so tool errors can
// be surfaced with their diagnostics.
func (e *Exec) Run(ctx context.Context, spec Spec) (Result, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := safeCommand(runCtx, spec.Name, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Env, spec.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, context.DeadlineExceeded
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, err
	}

	return res, nil
}

// LookPath reports whether the tool exists on PATH.
func (e *Exec) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

// Redact removes obvious credential material from a command line for logging.
func Redact(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "PGPASSWORD=") {
			out[i] = "PGPASSWORD=***"
			continue
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
