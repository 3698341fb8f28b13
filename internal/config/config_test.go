package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 9009, cfg.WSPort)
	assert.Equal(t, 9010, cfg.HTTPPort)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.True(t, cfg.EvictStalePortHolders)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 5*time.Second, cfg.StateCheckInterval())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9009, cfg.WSPort)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browsermcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ws_port: 19009
call_timeout_ms: 1000
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 19009, cfg.WSPort)
	assert.Equal(t, 9010, cfg.HTTPPort, "unset fields keep defaults")
	assert.Equal(t, time.Second, cfg.CallTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ws_port: [not a number"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browsermcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ws_port: 19009\n"), 0o644))

	t.Setenv("BROWSERMCP_WS_PORT", "29009")
	t.Setenv("BROWSERMCP_CALL_TIMEOUT_MS", "2500")
	t.Setenv("BROWSERMCP_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 29009, cfg.WSPort)
	assert.Equal(t, 2500*time.Millisecond, cfg.CallTimeout())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestInvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("BROWSERMCP_WS_PORT", "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9009, cfg.WSPort)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ws port zero", func(c *Config) { c.WSPort = 0 }},
		{"ws port too large", func(c *Config) { c.WSPort = 70000 }},
		{"http port negative", func(c *Config) { c.HTTPPort = -1 }},
		{"ports collide", func(c *Config) { c.HTTPPort = c.WSPort }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.validate())
		})
	}
	require.NoError(t, DefaultConfig().validate())
}

func TestDurationAccessorsGuardNonPositive(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 5*time.Second, cfg.StateCheckInterval())
}
