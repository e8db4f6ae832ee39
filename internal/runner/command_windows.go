//go:build windows
// +build windows

package runner

import (
	"context"
	"os"
	"os/exec"
)

// safeCommand creates an exec.Cmd. Process groups are a Unix concept;
// on Windows CommandContext's default kill is the best available.
func safeCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), "TERM=dumb")
	return cmd
}
