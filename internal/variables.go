package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Name used for the binary, directories, and socket files.
	Name = "strata"

	// String reported when a build-time variable is not set.
	defaultUndefined = "(undefined)"

	// String reported for a local (non-release) build.
	defaultDevBuild = "(dev)"
)

var (
	version   = "" // Version number (e.g., "1.2.3"), set via linker flags.
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4"), set via linker flags.

	rawQuiet   = "false" // Whether to enable quiet mode by default.
	rawDebug   = "false" // Whether to enable debug mode by default.
	rawVerbose = "false" // Whether to enable verbose logging by default.
)

// Returns the current version.
//
// A "v" or "V" prefix (e.g., "v1.0.0") is stripped. Returns "(undefined)"
// when the version was not set at build time.
func Version() string {
	v := strings.TrimSpace(version)
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(strings.ToLower(v), "v")
}

// Returns the git commit hash, or "(undefined)" when not set.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns true if this is a local (non-release) build.
//
// Release builds set both the version and the commit hash via linker flags.
func IsDevBuild() bool {
	return strings.TrimSpace(version) == "" || strings.TrimSpace(gitCommit) == ""
}

// Returns a detailed version string.
//
// Returns "(dev)" for local builds. Otherwise the string is formatted as
// "<version> <git-commit> [<arch>]".
func VersionString() string {
	if IsDevBuild() {
		return defaultDevBuild
	}
	return fmt.Sprintf("%s %s [%s]", Version(), GitCommit(), runtime.GOARCH)
}
