// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies YAML parsing, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/gateway/gateway.db
gateway:
  timeout: 10s
phone:
  default_country_code: "1"
blob:
  dir: /var/lib/gateway/blobs
  base_url: https://files.local
accounts:
  manifest_path: /etc/gateway/accounts.toml
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gateway/gateway.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "1", cfg.Phone.DefaultCountryCode)
	assert.Equal(t, "/var/lib/gateway/blobs", cfg.Blob.Dir)
	assert.Equal(t, "https://files.local", cfg.Blob.BaseURL)
	assert.Equal(t, "/etc/gateway/accounts.toml", cfg.Accounts.ManifestPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: gateway.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "55", cfg.Phone.DefaultCountryCode)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/data/gw.db")
	path := writeConfig(t, `
database:
  path: ${TEST_DB_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/gw.db", cfg.Database.Path)
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: gateway.db
gateway:
  timeout: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing durations")
}

func TestLoad_BadLogLevel(t *testing.T) {
	path := writeConfig(t, `
database:
  path: gateway.db
logging:
  level: loud
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
