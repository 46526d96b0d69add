package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "strata"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the layer cache directory.
//
//	Linux:   ~/.cache/strata/layers
//	macOS:   ~/Library/Caches/strata/layers
func LayerCache() string {
	return filepath.Join(xdg.CacheHome, toolName, "layers")
}

// Path to the local image store directory.
//
//	Linux:   ~/.local/share/strata/store
//	macOS:   ~/Library/Application Support/strata/store
func ImageStore() string {
	return filepath.Join(xdg.DataHome, toolName, "store")
}

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/strata or /run/user/<uid>/strata
//	macOS:   ~/Library/Caches/strata/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, toolName)
	}
	return filepath.Join(xdg.CacheHome, toolName, "run")
}

// Default path to the Unix domain socket for the build daemon.
//
//	Linux:   $XDG_RUNTIME_DIR/strata/strata.sock
//	macOS:   ~/Library/Caches/strata/run/strata.sock
func Socket() string {
	return filepath.Join(Runtime(), toolName+".sock")
}

// Default path to the daemon PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), toolName+".pid")
}
