package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DefaultEndpoint, cfg.Endpoint)
	require.Equal(t, DefaultStorage, cfg.Storage)
	require.Equal(t, DefaultPolicy, cfg.Policy)
	require.Equal(t, 100*time.Millisecond, cfg.TickInterval())
	require.Equal(t, 10*time.Second, cfg.BindWait())
	require.Equal(t, 1, cfg.Default.Slot)
	require.Equal(t, 128, cfg.Executors.MaxExecutors)
	require.Equal(t, "host", cfg.Executors.Shim)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flame-conf.toml")
	content := `
name = "test-cluster"
endpoint = "127.0.0.1:9090"
storage = "sqlite:///var/lib/flame/flame.db"
policy = "proportion"
tick_interval_ms = 50
bind_wait_ms = 2000

[default]
slot = 2

[executors]
max_executors = 16
shim = "log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test-cluster", cfg.Name)
	require.Equal(t, "127.0.0.1:9090", cfg.Endpoint)
	require.Equal(t, "sqlite:///var/lib/flame/flame.db", cfg.Storage)
	require.Equal(t, 50*time.Millisecond, cfg.TickInterval())
	require.Equal(t, 2*time.Second, cfg.BindWait())
	require.Equal(t, 2, cfg.Default.Slot)
	require.Equal(t, 16, cfg.Executors.MaxExecutors)
	require.Equal(t, "log", cfg.Executors.Shim)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/flame-conf.toml")
	require.Error(t, err)
}
