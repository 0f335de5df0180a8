package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/cpid/internal/config"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.SocketPath)
	assert.Equal(t, cfg.SocketPath+".lock", cfg.LockPath())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"unknown codec", func(c *Config) { c.Codec = "msgpack" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero grace period", func(c *Config) { c.ShutdownGracePeriod = 0 }},
		{"negative connections", func(c *Config) { c.MaxConnections = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromConfig(t *testing.T) {
	app := config.NewConfig()
	app.Server.SocketPath = "/tmp/cpid-from-config.sock"
	app.Server.Codec = "cbor"
	app.Server.MaxConnections = 8

	cfg := FromConfig(app)
	assert.Equal(t, "/tmp/cpid-from-config.sock", cfg.SocketPath)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 8, cfg.MaxConnections)
	assert.Greater(t, cfg.PollInterval, time.Duration(0))
	assert.NoError(t, cfg.Validate())
}
