// Package config loads cpid settings from defaults, the user config file
// and CPID_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/logging"
)

// AppName names the per-user directories under the XDG base dirs.
const AppName = "cpid"

// Storage backends.
const (
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

// Wire codecs.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Config represents the complete cpid configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// StorageConfig selects and locates the embedded key-value store.
type StorageConfig struct {
	// Backend is "bolt" (single file) or "pebble" (directory).
	Backend string `yaml:"backend" json:"backend"`
	// Path is the database file or directory.
	Path string `yaml:"path" json:"path"`
	// OpenTimeout bounds how long bolt waits for another process's lock.
	OpenTimeout Duration `yaml:"open_timeout" json:"open_timeout"`
}

// ServerConfig configures the socket server.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	// Codec is the frame encoding: "json" or "cbor".
	Codec string `yaml:"codec" json:"codec"`
	// PollInterval is how often the supervisor checks the shutdown flag.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	// ShutdownGracePeriod bounds the wait for open connections on exit.
	ShutdownGracePeriod Duration `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`
	// MaxConnections caps concurrent connection workers. 0 = unbounded.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// ClientTimeout bounds a single request made by the CLI client.
	ClientTimeout Duration `yaml:"client_timeout" json:"client_timeout"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers          int    `yaml:"workers" json:"workers"`
	ArchiveCacheSize int    `yaml:"archive_cache_size" json:"archive_cache_size"`
	JImageTool       string `yaml:"jimage_tool" json:"jimage_tool"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// TelemetryConfig configures the local query statistics database.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend:     BackendBolt,
			Path:        DefaultDBPath(),
			OpenTimeout: Duration(time.Second),
		},
		Server: ServerConfig{
			SocketPath:          DefaultSocketPath(),
			Codec:               CodecJSON,
			PollInterval:        Duration(100 * time.Millisecond),
			ShutdownGracePeriod: Duration(5 * time.Second),
			ClientTimeout:       Duration(5 * time.Minute),
		},
		Ingest: IngestConfig{
			Workers:          runtime.NumCPU(),
			ArchiveCacheSize: 256,
			JImageTool:       "jimage",
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      logging.DefaultLogPath(),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Path:    DefaultTelemetryPath(),
		},
	}
}

// DefaultDBPath returns $XDG_DATA_HOME/cpid/findex.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, AppName, "findex")
}

// DefaultSocketPath returns $XDG_STATE_HOME/cpid/sock.
func DefaultSocketPath() string {
	return filepath.Join(xdg.StateHome, AppName, "sock")
}

// DefaultTelemetryPath returns $XDG_DATA_HOME/cpid/telemetry.db.
func DefaultTelemetryPath() string {
	return filepath.Join(xdg.DataHome, AppName, "telemetry.db")
}

// GetUserConfigPath returns the user config file location.
// XDG_CONFIG_HOME is read on every call so tests can redirect it.
func GetUserConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", AppName, "config.yaml")
	}
	return filepath.Join(home, ".config", AppName, "config.yaml")
}

// Load builds the effective configuration:
//  1. Hardcoded defaults
//  2. The config file (path, or the user config when path is empty)
//  3. Environment variables (CPID_*)
//
// An explicit path that does not exist is an error; a missing user config
// is not.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = GetUserConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, cerrors.New(cerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file not found: %s", path), err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values, so keys absent from the
// file keep their defaults and explicit zero values are honoured.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return cerrors.New(cerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CPID_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CPID_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CPID_SOCKET"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("CPID_CODEC"); v != "" {
		c.Server.Codec = v
	}
	if v := os.Getenv("CPID_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("CPID_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("CPID_JIMAGE"); v != "" {
		c.Ingest.JImageTool = v
	}
	if v := os.Getenv("CPID_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CPID_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBolt, BackendPebble:
	default:
		return cerrors.ConfigError(fmt.Sprintf("storage.backend must be 'bolt' or 'pebble', got %q", c.Storage.Backend), nil)
	}
	if c.Storage.Path == "" {
		return cerrors.ConfigError("storage.path must not be empty", nil)
	}

	switch c.Server.Codec {
	case CodecJSON, CodecCBOR:
	default:
		return cerrors.ConfigError(fmt.Sprintf("server.codec must be 'json' or 'cbor', got %q", c.Server.Codec), nil)
	}
	if c.Server.SocketPath == "" {
		return cerrors.ConfigError("server.socket_path must not be empty", nil)
	}
	if c.Server.PollInterval <= 0 {
		return cerrors.ConfigError("server.poll_interval must be positive", nil)
	}
	if c.Server.ShutdownGracePeriod < 0 {
		return cerrors.ConfigError("server.shutdown_grace_period must not be negative", nil)
	}
	if c.Server.MaxConnections < 0 {
		return cerrors.ConfigError(fmt.Sprintf("server.max_connections must be non-negative, got %d", c.Server.MaxConnections), nil)
	}

	if c.Ingest.Workers <= 0 {
		return cerrors.ConfigError(fmt.Sprintf("ingest.workers must be positive, got %d", c.Ingest.Workers), nil)
	}
	if c.Ingest.ArchiveCacheSize < 0 {
		return cerrors.ConfigError(fmt.Sprintf("ingest.archive_cache_size must be non-negative, got %d", c.Ingest.ArchiveCacheSize), nil)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return cerrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level), nil)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoggingSetup converts the logging section for logging.Setup.
func (c *Config) LoggingSetup() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		FilePath:  c.Logging.File,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
		Stderr:    os.Stderr,
	}
}
