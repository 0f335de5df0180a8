package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// InstanceLock is a cross-process lock held by a running server for its
// socket path.
type InstanceLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewInstanceLock creates an unlocked lock at path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. It fails with
// ERR_505_SERVER_RUNNING when another process holds it.
func (l *InstanceLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return cerrors.New(cerrors.ErrCodeServerRunning,
			"another server is already using this socket", nil).
			WithDetail("lock", l.path).
			WithSuggestion("stop it first, or pick another socket path")
	}
	l.locked = true
	return nil
}

// Release unlocks and removes the lock file. Safe to call when unlocked.
func (l *InstanceLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	_ = os.Remove(l.path)
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.path }
