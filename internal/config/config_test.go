package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// isolate points every config source at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{
		"CPID_BACKEND", "CPID_DB", "CPID_SOCKET", "CPID_CODEC", "CPID_METRICS_ADDR",
		"CPID_WORKERS", "CPID_JIMAGE", "CPID_LOG_LEVEL", "CPID_TELEMETRY",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.True(t, strings.HasSuffix(cfg.Storage.Path, filepath.Join("cpid", "findex")))
	assert.True(t, strings.HasSuffix(cfg.Server.SocketPath, filepath.Join("cpid", "sock")))
	assert.Equal(t, CodecJSON, cfg.Server.Codec)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.PollInterval.Std())
	assert.Equal(t, runtime.NumCPU(), cfg.Ingest.Workers)
	assert.Equal(t, "jimage", cfg.Ingest.JImageTool)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoUserConfigUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Storage, cfg.Storage)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	// Given: a user config with a few keys set
	dir := isolate(t)
	path := filepath.Join(dir, "cpid", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: pebble
server:
  codec: cbor
  poll_interval: 250ms
telemetry:
  enabled: false
`), 0o644))

	// When: loading
	cfg, err := Load("")
	require.NoError(t, err)

	// Then: file values win, untouched keys keep defaults
	assert.Equal(t, BackendPebble, cfg.Storage.Backend)
	assert.Equal(t, DefaultDBPath(), cfg.Storage.Path)
	assert.Equal(t, CodecCBOR, cfg.Server.Codec)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.PollInterval.Std())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: pebble\n"), 0o644))
	t.Setenv("CPID_BACKEND", "bolt")
	t.Setenv("CPID_SOCKET", "/tmp/cpid-test.sock")
	t.Setenv("CPID_WORKERS", "3")
	t.Setenv("CPID_WORKERS_IGNORED", "x")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/cpid-test.sock", cfg.Server.SocketPath)
	assert.Equal(t, 3, cfg.Ingest.Workers)
}

func TestLoad_ExplicitMissingFileIsError(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeConfigNotFound))
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  poll_interval: soon\n"), 0o644))

	_, err := Load(path)

	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeConfigInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sled" }, "storage.backend"},
		{"empty db path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"unknown codec", func(c *Config) { c.Server.Codec = "msgpack" }, "server.codec"},
		{"zero poll", func(c *Config) { c.Server.PollInterval = 0 }, "poll_interval"},
		{"negative max conns", func(c *Config) { c.Server.MaxConnections = -1 }, "max_connections"},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }, "ingest.workers"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, cerrors.CategoryConfig, cerrors.GetCategory(err))
		})
	}
}

func TestWriteYAML_RoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := NewConfig()
	cfg.Server.ShutdownGracePeriod = Duration(1500 * time.Millisecond)

	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shutdown_grace_period: 1.5s")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Server, back.Server)
}

func TestBackupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	// Missing file: nothing to back up
	backup, err := BackupFile(path)
	require.NoError(t, err)
	assert.Empty(t, backup)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}
