//go:build !windows
// +build !windows

package runner

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// safeCommand creates an exec.Cmd with its own process group so that
// pipelines spawned by the tool are killed together with it on timeout.
func safeCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	// Detach stdin; psql opens /dev/tty for password prompts otherwise.
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), "TERM=dumb")

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			return cmd.Process.Kill()
		}
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}

	return cmd
}
