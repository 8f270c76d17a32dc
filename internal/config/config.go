// Package config loads application configuration from file and environment
// and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Accounts  AccountsConfig  `yaml:"accounts" mapstructure:"accounts"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Migration MigrationConfig `yaml:"migration" mapstructure:"migration"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AccountsConfig holds credentials for the two CRM accounts involved in a
// migration. Child is the source, master the destination.
type AccountsConfig struct {
	ChildAPIKey  string `yaml:"child_api_key" mapstructure:"child_api_key"`
	MasterAPIKey string `yaml:"master_api_key" mapstructure:"master_api_key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
}

// APIConfig tunes the upstream HTTP clients.
type APIConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	PageSize          int     `yaml:"page_size" mapstructure:"page_size"`
}

// MigrationConfig tunes record processing.
type MigrationConfig struct {
	BatchSize     int     `yaml:"batch_size" mapstructure:"batch_size"`
	ItemDelaySecs float64 `yaml:"item_delay_secs" mapstructure:"item_delay_secs"`
	TestMode      bool    `yaml:"test_mode" mapstructure:"test_mode"`
	TestLimit     int     `yaml:"test_limit" mapstructure:"test_limit"`
	AuditTag      string  `yaml:"audit_tag" mapstructure:"audit_tag"`
}

// MappingConfig tunes schema matching.
type MappingConfig struct {
	FieldThreshold    float64 `yaml:"field_threshold" mapstructure:"field_threshold"`
	PipelineThreshold float64 `yaml:"pipeline_threshold" mapstructure:"pipeline_threshold"`
	SynonymsFile      string  `yaml:"synonyms_file" mapstructure:"synonyms_file"`
}

// StoreConfig configures the mapping state backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the job API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRMMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("accounts.base_url", "https://rest.gohighlevel.com/v1")
	v.SetDefault("api.requests_per_second", 5.0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.page_size", 100)
	v.SetDefault("migration.batch_size", 10)
	v.SetDefault("migration.item_delay_secs", 0.2)
	v.SetDefault("migration.test_limit", 5)
	v.SetDefault("migration.audit_tag", "migrated-from-child")
	v.SetDefault("mapping.field_threshold", 0.8)
	v.SetDefault("mapping.pipeline_threshold", 0.6)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "migration_state")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required by the given run mode. Modes are
// "migrate" and "plan" (both talk to the upstream API) and "serve".
func (c *Config) Validate(mode string) error {
	var missing []string

	checkAPI := func() {
		if c.Accounts.ChildAPIKey == "" {
			missing = append(missing, "accounts.child_api_key is required")
		}
		if c.Accounts.MasterAPIKey == "" {
			missing = append(missing, "accounts.master_api_key is required")
		}
	}

	switch mode {
	case "migrate", "plan":
		checkAPI()
	case "serve":
		checkAPI()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Migration.BatchSize < 1 || c.Migration.BatchSize > 500 {
		missing = append(missing, "migration.batch_size must be between 1 and 500")
	}
	if c.Migration.ItemDelaySecs < 0 {
		missing = append(missing, "migration.item_delay_secs must be >= 0")
	}
	if c.Mapping.FieldThreshold < 0 || c.Mapping.FieldThreshold > 1 {
		missing = append(missing, "mapping.field_threshold must be between 0 and 1")
	}
	if c.Mapping.PipelineThreshold < 0 || c.Mapping.PipelineThreshold > 1 {
		missing = append(missing, "mapping.pipeline_threshold must be between 0 and 1")
	}
	switch c.Store.Driver {
	case "file", "sqlite", "postgres", "memory":
	default:
		missing = append(missing, "store.driver must be one of file, sqlite, postgres, memory")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required for the postgres driver")
	}

	if len(missing) > 0 {
		return eris.New("config: invalid configuration:\n  " + strings.Join(missing, "\n  "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
