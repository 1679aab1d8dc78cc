package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gnethogs.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	c := cfg.GNethogs

	assert.Equal(t, EnginePcap, c.Engine.Kind)
	assert.Equal(t, 100*time.Millisecond, c.Engine.Interval)
	assert.Equal(t, 5*time.Second, c.Engine.IdleTimeout)
	assert.Equal(t, 65535, c.Engine.Snaplen)
	assert.Equal(t, 256, c.Users.CacheSize)
	assert.Equal(t, "GNethogs", c.UI.Title)
	assert.False(t, c.Metrics.Enabled)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.True(t, c.Logging.Enabled)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "gnethogs.log", c.Logging.File)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
gnethogs:
  engine:
    kind: nethogs
    interval: 250ms
    devices: [eth0, wlan0]
  metrics:
    enabled: true
    addr: ":9100"
  logging:
    level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	c := cfg.GNethogs

	assert.Equal(t, EngineNethogs, c.Engine.Kind)
	assert.Equal(t, 250*time.Millisecond, c.Engine.Interval)
	assert.Equal(t, []string{"eth0", "wlan0"}, c.Engine.Devices)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, ":9100", c.Metrics.Addr)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.True(t, c.Logging.Enabled)
	assert.Equal(t, 5*time.Second, c.Engine.IdleTimeout)
}

func TestLoadConsoleLoggingWithoutFile(t *testing.T) {
	path := writeFile(t, "gnethogs:\n  logging:\n    console: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.GNethogs.Logging.Console)
	assert.Empty(t, cfg.GNethogs.Logging.File)

	path = writeFile(t, "gnethogs:\n  logging:\n    console: true\n    file: app.log\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app.log", cfg.GNethogs.Logging.File)
}

func TestLoadLoggingCanBeDisabled(t *testing.T) {
	path := writeFile(t, "gnethogs:\n  logging:\n    enabled: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.GNethogs.Logging.Enabled)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "gnethogs: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"defaults", func(*AppConfig) {}, true},
		{"unknown engine", func(c *AppConfig) { c.Engine.Kind = "ebpf" }, false},
		{"negative interval", func(c *AppConfig) { c.Engine.Interval = -time.Second }, false},
		{"negative idle", func(c *AppConfig) { c.Engine.IdleTimeout = -time.Second }, false},
		{"bad metrics path", func(c *AppConfig) { c.Metrics.Path = "metrics" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.GNethogs)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
