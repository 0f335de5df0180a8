// Package daemon serves cpid requests over a Unix socket or a pair of
// standard streams, and provides the matching client.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/cpid/internal/config"
	"github.com/Aman-CERP/cpid/internal/protocol"
)

// Config holds configuration for the server and client.
type Config struct {
	// SocketPath is the Unix domain socket path.
	SocketPath string

	// Codec is the wire encoding, "json" or "cbor".
	Codec string

	// PollInterval is how often the supervisor checks the shutdown flag.
	PollInterval time.Duration

	// ShutdownGracePeriod bounds the wait for open connections once the
	// server stops accepting.
	ShutdownGracePeriod time.Duration

	// MaxConnections caps concurrently served connections; 0 is unbounded.
	MaxConnections int

	// Timeout is the client's per-call deadline.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:          config.DefaultSocketPath(),
		Codec:               protocol.CodecJSON,
		PollInterval:        100 * time.Millisecond,
		ShutdownGracePeriod: 5 * time.Second,
		Timeout:             5 * time.Minute,
	}
}

// FromConfig extracts the server settings from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		SocketPath:          cfg.Server.SocketPath,
		Codec:               cfg.Server.Codec,
		PollInterval:        cfg.Server.PollInterval.Std(),
		ShutdownGracePeriod: cfg.Server.ShutdownGracePeriod.Std(),
		MaxConnections:      cfg.Server.MaxConnections,
		Timeout:             cfg.Server.ClientTimeout.Std(),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if _, err := protocol.ByName(c.Codec); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}
	return nil
}

// LockPath is the lock file guarding the socket against a second server.
func (c Config) LockPath() string {
	return c.SocketPath + ".lock"
}

// EnsureDir creates the directory holding the socket.
func (c Config) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(c.SocketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	return nil
}
