package build

import (
	"maps"
	"sort"

	"github.com/stratabuild/strata/internal/recipe"
)

const (

	// Default shell used for run steps when no shell step has been applied.
	defaultShell = "/bin/sh"

	// Default working directory before any workdir step.
	defaultWorkdir = "/"
)

// Tracks accumulated step modifiers and image metadata during a build.
//
// State flows linearly through the step list: each metadata step mutates it
// permanently, affecting all later steps and the final image config. The
// user field only ever moves from empty to a name; the switch is one-way.
type stepState struct {
	shell      string
	workdir    string
	user       string
	env        map[string]string
	ports      []int
	cmd        []string
	entrypoint []string
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{
		shell:   defaultShell,
		workdir: defaultWorkdir,
		env:     make(map[string]string),
	}
}

// Persists a metadata step's fields into the state.
//
// Environment variables overlay earlier ones with the same name. Repeated
// command or entrypoint declarations replace earlier ones, so the last
// declaration wins.
func (s *stepState) apply(step recipe.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	if step.User != "" {
		s.user = step.User
	}
	if step.Expose != 0 {
		s.ports = append(s.ports, step.Expose)
	}
	if len(step.Command) > 0 {
		s.cmd = step.Command
	}
	if len(step.Entrypoint) > 0 {
		s.entrypoint = step.Entrypoint
	}
	maps.Copy(s.env, step.Env)
}

// Formats the accumulated environment as sorted "key=value" strings.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
