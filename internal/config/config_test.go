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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "chainlog", cfg.App.Name)
	assert.Equal(t, "./logs", cfg.Store.DataDir)
	assert.Equal(t, int64(100*1024*1024), cfg.Store.RotateBytes)
	assert.False(t, cfg.Replication.Enabled)
	assert.Equal(t, "async", cfg.Replication.Mode)
	assert.Equal(t, 10, cfg.Replication.BatchSize)
	assert.Equal(t, 4, cfg.Replication.Workers)
	assert.Equal(t, 30*time.Second, cfg.Replication.UploadTimeout)
	assert.Equal(t, "sqlite", cfg.Replication.BackendType)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableMetrics)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
store:
  data_dir: /var/lib/chainlog
  rotate_bytes: 1048576
replication:
  enabled: true
  mode: sync
  backend_type: memory
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/chainlog", cfg.Store.DataDir)
	assert.Equal(t, int64(1048576), cfg.Store.RotateBytes)
	assert.True(t, cfg.Replication.Enabled)
	assert.Equal(t, "sync", cfg.Replication.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)

	// File values merge over defaults rather than replacing them.
	assert.Equal(t, 10, cfg.Replication.BatchSize)

	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHAINLOG_DATA_DIR", "/tmp/override")
	t.Setenv("DATABASE_URL", "postgres://replica:5432/chainlog")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override", cfg.Store.DataDir)
	assert.Equal(t, "postgres://replica:5432/chainlog", cfg.Replication.ConnectionString)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Store.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.RotateBytes = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Replication.Enabled = true
	cfg.Replication.Mode = "eventual"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Replication.Enabled = true
	cfg.Replication.BatchSize = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Replication.Enabled = true
	cfg.Replication.ConnectionString = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Replication.Enabled = true
	cfg.Replication.BackendType = "memory"
	cfg.Replication.ConnectionString = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not: valid"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
