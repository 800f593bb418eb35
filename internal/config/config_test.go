package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty dir so no config.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadscout.db", cfg.Store.SQLitePath)
	assert.Equal(t, 15, cfg.Monitor.IntervalSecs)
	assert.Equal(t, "leadscout", cfg.Review.SourceTag)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leadscout
monitor:
  interval_secs: 5
lists:
  export_dir: /tmp/exports
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/leadscout", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Monitor.IntervalSecs)
	assert.Equal(t, "/tmp/exports", cfg.Lists.ExportDir)
	// Untouched sections keep defaults.
	assert.Equal(t, 4, cfg.Review.MaxParallel)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate("store"))

	cfg.Store.DatabaseURL = "postgres://x"
	assert.NoError(t, cfg.Validate("store"))

	assert.Error(t, cfg.Validate("search"))
	cfg.Search.BaseURL = "http://search.internal"
	assert.NoError(t, cfg.Validate("search"))

	assert.Error(t, cfg.Validate("salesforce"))
	cfg.Salesforce = SalesforceConfig{ClientID: "id", Username: "u", KeyPath: "k"}
	assert.NoError(t, cfg.Validate("salesforce"))
}

func TestInitLogger_BadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
