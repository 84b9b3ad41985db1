package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.Socket.URL)
	assert.Equal(t, "/socket.io/", cfg.Socket.Path)
	assert.Equal(t, 10*time.Second, cfg.Socket.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.Socket.ReconnectDelayMin)
	assert.Equal(t, 5*time.Second, cfg.Socket.ReconnectDelayMax)
	assert.Equal(t, 3*time.Second, cfg.Freshness.StaleWindow)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "highest_profit_data", cfg.Storage.Key)
	assert.Equal(t, "arbsync:", cfg.Storage.Redis.Prefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "arbsync-redis-password", cfg.GCP.SecretNames.RedisPassword)
	assert.True(t, cfg.Server.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
socket:
  url: https://arb.example.com
  reconnect_delay_min: 500ms
  reconnect_delay_max: 10s
freshness:
  stale_window: 30s
storage:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
logging:
  level: debug
`), 0o600))

	t.Setenv("ARBSYNC_SERVER_PORT", "9191")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://arb.example.com", cfg.Socket.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Socket.ReconnectDelayMin)
	assert.Equal(t, 10*time.Second, cfg.Socket.ReconnectDelayMax)
	assert.Equal(t, 30*time.Second, cfg.Freshness.StaleWindow)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, "hunter2", cfg.Storage.Redis.Password)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Socket: SocketConfig{
				URL:               "http://localhost:5000",
				ReconnectDelayMin: time.Second,
				ReconnectDelayMax: 5 * time.Second,
			},
			Freshness: FreshnessConfig{StaleWindow: 3 * time.Second},
			Storage:   StorageConfig{Backend: "file"},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"empty url":       func(c *Config) { c.Socket.URL = "" },
		"zero min delay":  func(c *Config) { c.Socket.ReconnectDelayMin = 0 },
		"min above max":   func(c *Config) { c.Socket.ReconnectDelayMin = time.Minute },
		"zero window":     func(c *Config) { c.Freshness.StaleWindow = 0 },
		"unknown backend": func(c *Config) { c.Storage.Backend = "sqlite" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
