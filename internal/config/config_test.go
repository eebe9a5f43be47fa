package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithEnvOnly(t *testing.T) {
	t.Setenv("SALAS_API_KEY", "secret")
	t.Setenv("SESAME_API_KEY", "token-1")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/dw")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "dbo", cfg.Schema)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 30, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "default", cfg.Accounts[0].Name)
	assert.Equal(t, "token-1", cfg.Accounts[0].Token)
}

func TestLoadYAMLFileThenEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
api_secret: from-file
warehouse_dsn: postgres://file/dw
schema: public
accounts:
  - name: salas
    token: tok-a
  - name: obras
    token: tok-b
schedules:
  - cron: "0 3 * * *"
    job: worked_hours
    window_days: 1
`)
	t.Setenv("SALAS_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	// Environment wins over the file.
	assert.Equal(t, "from-env", cfg.APISecret)
	assert.Equal(t, "public", cfg.Schema)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "obras", cfg.Accounts[1].Name)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "worked_hours", cfg.Schedules[0].Job)
	assert.Equal(t, 1, cfg.Schedules[0].WindowDays)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	t.Setenv("SALAS_API_KEY", "secret")
	t.Setenv("SESAME_API_KEY", "token-1")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse DSN")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
