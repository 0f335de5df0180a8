package logging

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultLogDir returns the per-user log directory ($XDG_STATE_HOME/cpid/logs).
func DefaultLogDir() string {
	return filepath.Join(xdg.StateHome, "cpid", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "cpid.log")
}

// EnsureLogDir creates the directory holding path if it doesn't exist.
func EnsureLogDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
