package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Logger.BatchSize)
	assert.Equal(t, "30s", cfg.Logger.FlushInterval)
	assert.True(t, cfg.Logger.Fsync)
	assert.Equal(t, "./logs", cfg.Logger.FallbackDir)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
logger:
  batch_size: 3
  output_dir: /tmp/out
sinks:
  nats:
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Logger.BatchSize)
	assert.Equal(t, "/tmp/out", cfg.Logger.OutputDir)
	assert.Equal(t, ":6000", cfg.Logger.ListenAddr)
	assert.True(t, cfg.Sinks.NATS.Enabled)
	assert.Equal(t, "gonl.batches", cfg.Sinks.NATS.Subject)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LOGGER_OUTPUT_DIR":     "/srv/batches",
		"LOGGER_BATCH_SIZE":     "250",
		"LOGGER_FLUSH_INTERVAL": "15",
		"LOGGER_LISTEN_ADDR":    "127.0.0.1:7000",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/batches", cfg.Logger.OutputDir)
	assert.Equal(t, 250, cfg.Logger.BatchSize)
	d, err := ParseDuration(cfg.Logger.FlushInterval)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)
	assert.Equal(t, "127.0.0.1:7000", cfg.Logger.ListenAddr)
}

func TestApplyEnv_BadBatchSize(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "LOGGER_BATCH_SIZE" {
			return "lots", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero batch size", func(c *Config) { c.Logger.BatchSize = 0 }},
		{"bad interval", func(c *Config) { c.Logger.FlushInterval = "soon" }},
		{"zero interval", func(c *Config) { c.Logger.FlushInterval = "0s" }},
		{"negative grace", func(c *Config) { c.Logger.GracePeriod = "-1s" }},
		{"zero line limit", func(c *Config) { c.Logger.MaxLineBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadConfig_ShippedFile(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Generator.Profiles, 9)
	assert.Equal(t, "10s", cfg.Generator.FlowTimeout)
	assert.Equal(t, "logger:6000", cfg.Relay.UpstreamAddr)
	assert.False(t, cfg.Sinks.ClickHouse.Enabled)
}
