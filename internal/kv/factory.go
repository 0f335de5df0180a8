package kv

import (
	"fmt"
	"time"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

// Options selects and locates a store.
type Options struct {
	// Backend is "bolt" (default when empty) or "pebble".
	Backend string
	// Path is the bolt file or the pebble directory. An empty pebble path
	// opens an in-memory store.
	Path string
	// Timeout bounds the bolt file-lock wait.
	Timeout time.Duration
}

// Open creates a store for the configured backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendBolt, "":
		return OpenBolt(opts.Path, opts.Timeout)
	case BackendPebble:
		return OpenPebble(opts.Path)
	default:
		return nil, cerrors.New(cerrors.ErrCodeStorageBackend,
			fmt.Sprintf("unknown storage backend: %s (valid: bolt, pebble)", opts.Backend), nil)
	}
}

// OpenMemory returns a volatile store for tests and dry runs.
func OpenMemory() (Store, error) {
	return OpenPebble("")
}
