// Package config loads application configuration from config.yaml and
// LEADSCOUT_* environment variables, and initializes the global logger.
package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Search     ExecutorConfig   `yaml:"search" mapstructure:"search"`
	Crawl      ExecutorConfig   `yaml:"crawl" mapstructure:"crawl"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Lists      ListsConfig      `yaml:"lists" mapstructure:"lists"`
	Monitor    MonitorConfig    `yaml:"monitor" mapstructure:"monitor"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ExecutorConfig holds connection settings for an external executor (search
// or crawl).
type ExecutorConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`

	// Zero retry values fall back to the resilience defaults.
	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMS    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryBackoffCapMS int `yaml:"retry_backoff_cap_ms" mapstructure:"retry_backoff_cap_ms"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the CRM contact
// store.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	Username     string  `yaml:"username" mapstructure:"username"`
	KeyPath      string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// ReviewConfig configures the lead review service.
type ReviewConfig struct {
	SourceTag   string `yaml:"source_tag" mapstructure:"source_tag"`
	MaxParallel int    `yaml:"max_parallel" mapstructure:"max_parallel"`
}

// ListsConfig configures lead list export/import.
type ListsConfig struct {
	ExportDir string          `yaml:"export_dir" mapstructure:"export_dir"`
	VendorFTP VendorFTPConfig `yaml:"vendor_ftp" mapstructure:"vendor_ftp"`
}

// VendorFTPConfig holds the cleaning vendor's FTP drop settings. An empty
// host disables the FTP hand-off; exports stay local.
type VendorFTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// MonitorConfig configures the job monitor polling loop.
type MonitorConfig struct {
	IntervalSecs     int `yaml:"interval_secs" mapstructure:"interval_secs"`
	MaxParallel      int `yaml:"max_parallel" mapstructure:"max_parallel"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "leadscout.db")
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("crawl.timeout_secs", 60)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit_rps", 5.0)
	v.SetDefault("review.source_tag", "leadscout")
	v.SetDefault("review.max_parallel", 4)
	v.SetDefault("lists.export_dir", "exports")
	v.SetDefault("monitor.interval_secs", 15)
	v.SetDefault("monitor.max_parallel", 8)
	v.SetDefault("monitor.failure_threshold", 5)
	v.SetDefault("monitor.reset_timeout_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
		// No config file is fine; env and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks that the named subsystem has the configuration it needs.
func (c *Config) Validate(subsystem string) error {
	switch subsystem {
	case "store":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "search":
		if c.Search.BaseURL == "" {
			return eris.New("config: search.base_url is required")
		}
	case "crawl":
		if c.Crawl.BaseURL == "" {
			return eris.New("config: crawl.base_url is required")
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			return eris.New("config: salesforce client_id, username, and key_path are required")
		}
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
