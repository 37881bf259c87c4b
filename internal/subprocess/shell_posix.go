//go:build !windows

package subprocess

import (
	"context"
	"os/exec"
)

// shellCommand wraps command the way a POSIX shell would interpret a
// manifest's `command =` binding.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}
