package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://rest.gohighlevel.com/v1", cfg.Accounts.BaseURL)
	assert.InDelta(t, 5.0, cfg.API.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, 10, cfg.Migration.BatchSize)
	assert.InDelta(t, 0.2, cfg.Migration.ItemDelaySecs, 0.001)
	assert.Equal(t, 5, cfg.Migration.TestLimit)
	assert.Equal(t, "migrated-from-child", cfg.Migration.AuditTag)
	assert.InDelta(t, 0.8, cfg.Mapping.FieldThreshold, 0.001)
	assert.InDelta(t, 0.6, cfg.Mapping.PipelineThreshold, 0.001)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "migration_state", cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  path: state.db
migration:
  batch_size: 25
  test_mode: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "state.db", cfg.Store.Path)
	assert.Equal(t, 25, cfg.Migration.BatchSize)
	assert.True(t, cfg.Migration.TestMode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CRMMIGRATE_STORE_DRIVER", "postgres")
	t.Setenv("CRMMIGRATE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CRMMIGRATE_SERVER_PORT", "3000")
	t.Setenv("CRMMIGRATE_ACCOUNTS_CHILD_API_KEY", "child-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "child-key", cfg.Accounts.ChildAPIKey)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Accounts.ChildAPIKey = "child"
	cfg.Accounts.MasterAPIKey = "master"
	cfg.Migration.BatchSize = 10
	cfg.Mapping.FieldThreshold = 0.8
	cfg.Mapping.PipelineThreshold = 0.6
	cfg.Store.Driver = "file"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateMigrate_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("migrate"))
}

func TestValidateMigrate_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Accounts.ChildAPIKey = ""
	cfg.Accounts.MasterAPIKey = ""

	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "accounts.child_api_key is required")
	assert.Contains(t, err.Error(), "accounts.master_api_key is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBatchSizeBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Migration.BatchSize = 0
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be between 1 and 500")

	cfg.Migration.BatchSize = 501
	err = cfg.Validate("migrate")
	assert.Error(t, err)

	cfg.Migration.BatchSize = 500
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Mapping.FieldThreshold = 1.1
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "field_threshold")

	cfg.Mapping.FieldThreshold = 0.8
	cfg.Mapping.PipelineThreshold = -0.1
	err = cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline_threshold")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/migrate"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
