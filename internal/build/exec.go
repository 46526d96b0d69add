package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Environment variable exposing the staged image root to run commands.
const rootfsEnv = "STRATA_ROOTFS"

// Limit on captured stderr carried in a [CommandError].
const maxStderr = 4 * 1024

// Output of a run step's command.
type execResult struct {
	exitCode int    // Exit status of the process.
	stderr   string // Captured standard error, truncated to maxStderr.
}

// Runs a shell command against the staged root filesystem.
//
// The command is passed as a single argument via "shell -c command" and
// executes with the working directory resolved inside the staged root. The
// step environment overlays the host environment, and the staged root's
// absolute path is exported so commands can address the image filesystem.
// A non-zero exit status is not an error here; the caller decides.
func runCommand(ctx context.Context, shell, command, dir string, env []string) (*execResult, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %q: %w", command, err)
		}
	}

	out := stderr.Bytes()
	if len(out) > maxStderr {
		out = out[len(out)-maxStderr:]
	}

	return &execResult{
		exitCode: cmd.ProcessState.ExitCode(),
		stderr:   string(bytes.TrimSpace(out)),
	}, nil
}
