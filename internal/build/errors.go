package build

import (
	"errors"
	"fmt"
)

var (
	ErrBuild         = errors.New("build failed")
	ErrBaseNotFound  = errors.New("base image not found")
	ErrPathNotFound  = errors.New("copy source not found")
	ErrUserExists    = errors.New("user already exists")
	ErrCommandFailed = errors.New("command failed")
)

// Reported when a run step's command exits non-zero. Carries the command's
// exit status so the build's own exit code can propagate it.
type CommandError struct {
	Command  string // The shell command that failed.
	ExitCode int    // The command's exit status.
	Stderr   string // Captured standard error, possibly truncated.
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: exit code %d: %s", ErrCommandFailed, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%v: exit code %d", ErrCommandFailed, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Returns the process exit code for a build error.
//
// A failed run step propagates its command's exit status. Any other error
// maps to 1, and nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}
