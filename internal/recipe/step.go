package recipe

import (
	"errors"
	"fmt"
)

// Identifies the operation a step performs.
type Kind int

const (
	KindInvalid    Kind = iota // Zero or multiple operation fields set.
	KindEnv                    // Set environment variables.
	KindRun                    // Run a shell command.
	KindCopy                   // Copy files from the build context.
	KindWorkdir                // Set the working directory.
	KindUser                   // Create a user and switch to it.
	KindExpose                 // Declare an exposed port.
	KindCommand                // Set the default command.
	KindEntrypoint             // Set the entrypoint.
	KindShell                  // Set the shell for later run steps.
)

var ErrRecipe = errors.New("invalid recipe")

// A single build step.
//
// Exactly one operation field must be set per step; the set field determines
// the step's kind. Manifest and Inputs refine run steps only: Manifest names
// a context file that guards and keys the command (the step is skipped when
// the file is absent), Inputs name additional context files whose contents
// key the step's layer.
type Step struct {
	Env        map[string]string `yaml:"env,omitempty"`        // Environment variables; later sets override earlier ones.
	Run        string            `yaml:"run,omitempty"`        // Shell command executed against the image filesystem.
	Copy       string            `yaml:"copy,omitempty"`       // "src dest" copy from the build context.
	Workdir    string            `yaml:"workdir,omitempty"`    // Working directory for later steps and the final command.
	User       string            `yaml:"user,omitempty"`       // User to create and switch to. The switch is one-way.
	Expose     int               `yaml:"expose,omitempty"`     // Exposed port, metadata only.
	Command    []string          `yaml:"command,omitempty"`    // Default command; last declaration wins.
	Entrypoint []string          `yaml:"entrypoint,omitempty"` // Entrypoint; last declaration wins.
	Shell      string            `yaml:"shell,omitempty"`      // Shell for later run steps.

	Manifest string   `yaml:"manifest,omitempty"` // Guard file for run steps; absent file skips the step.
	Inputs   []string `yaml:"inputs,omitempty"`   // Extra context files keyed into a run step's layer.
}

// Returns the step's kind, or [KindInvalid] when the step does not carry
// exactly one operation field.
func (s Step) Kind() Kind {
	kind := KindInvalid
	n := 0

	set := func(k Kind) {
		kind = k
		n++
	}

	if len(s.Env) > 0 {
		set(KindEnv)
	}
	if s.Run != "" {
		set(KindRun)
	}
	if s.Copy != "" {
		set(KindCopy)
	}
	if s.Workdir != "" {
		set(KindWorkdir)
	}
	if s.User != "" {
		set(KindUser)
	}
	if s.Expose != 0 {
		set(KindExpose)
	}
	if len(s.Command) > 0 {
		set(KindCommand)
	}
	if len(s.Entrypoint) > 0 {
		set(KindEntrypoint)
	}
	if s.Shell != "" {
		set(KindShell)
	}

	if n != 1 {
		return KindInvalid
	}
	return kind
}

// Checks that the step carries exactly one operation and that refinement
// fields are only used where they apply.
func (s Step) validate() error {
	kind := s.Kind()
	if kind == KindInvalid {
		return fmt.Errorf("step must carry exactly one operation")
	}

	if kind != KindRun && (s.Manifest != "" || len(s.Inputs) > 0) {
		return fmt.Errorf("manifest and inputs apply to run steps only")
	}

	if kind == KindExpose && (s.Expose < 1 || s.Expose > 65535) {
		return fmt.Errorf("port %d out of range", s.Expose)
	}

	return nil
}

// Returns a short human-readable description of the step.
func (s Step) String() string {
	switch s.Kind() {
	case KindEnv:
		return fmt.Sprintf("env (%d vars)", len(s.Env))
	case KindRun:
		return "run " + s.Run
	case KindCopy:
		return "copy " + s.Copy
	case KindWorkdir:
		return "workdir " + s.Workdir
	case KindUser:
		return "user " + s.User
	case KindExpose:
		return fmt.Sprintf("expose %d", s.Expose)
	case KindCommand:
		return fmt.Sprintf("command %v", s.Command)
	case KindEntrypoint:
		return fmt.Sprintf("entrypoint %v", s.Entrypoint)
	case KindShell:
		return "shell " + s.Shell
	default:
		return "invalid step"
	}
}
