// Package config loads linktrunc settings from defaults, an optional YAML
// file, LINKTRUNC_* environment variables and command-line flags, in
// increasing order of precedence. The result is checked against an
// embedded CUE schema.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the resolved settings fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable, e.g. LINKTRUNC_HTTP_URL.
const EnvPrefix = "LINKTRUNC"

// Default configuration values.
const (
	defaultConnection       = "esdb://localhost:2113?tls=false"
	defaultHTTPURL          = "http://localhost:2113"
	defaultUsername         = "admin"
	defaultPassword         = "changeit"
	defaultHTTPTimeout      = "30s"
	defaultPageSize         = 4096
	defaultProgressInterval = "30s"
	defaultConcurrency      = 8
	defaultJournalPath      = "linktrunc.db"
)

// Config holds all linktrunc settings.
type Config struct {
	Connection        string                  `mapstructure:"connection" json:"connection"`
	HTTP              HTTPConfig              `mapstructure:"http" json:"http"`
	Scan              ScanConfig              `mapstructure:"scan" json:"scan"`
	Lookups           LookupConfig            `mapstructure:"lookups" json:"lookups"`
	SystemProjections SystemProjectionsConfig `mapstructure:"system_projections" json:"system_projections"`
	Journal           JournalConfig           `mapstructure:"journal" json:"journal"`
	Logging           LoggingConfig           `mapstructure:"logging" json:"logging"`
	Metrics           MetricsConfig           `mapstructure:"metrics" json:"metrics"`
	Tracing           TracingConfig           `mapstructure:"tracing" json:"tracing"`
}

// HTTPConfig holds the management API settings.
type HTTPConfig struct {
	URL      string        `mapstructure:"url" json:"url"`
	Username string        `mapstructure:"username" json:"username"`
	Password string        `mapstructure:"password" json:"password"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// ScanConfig holds dead link scan settings.
type ScanConfig struct {
	PageSize         int           `mapstructure:"page_size" json:"page_size"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" json:"progress_interval"`
}

// LookupConfig holds checkpoint lookup settings.
type LookupConfig struct {
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`
}

// SystemProjectionsConfig lists system projections left out of the gate.
type SystemProjectionsConfig struct {
	Ignore []string `mapstructure:"ignore" json:"ignore"`
}

// JournalConfig holds the run journal location. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// MetricsConfig holds the Prometheus textfile location. Empty disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" json:"textfile"`
}

// TracingConfig toggles span export to stderr.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"connection":       "connection",
	"http-url":         "http.url",
	"http-user":        "http.username",
	"http-pass":        "http.password",
	"page-size":        "scan.page_size",
	"concurrency":      "lookups.concurrency",
	"ignore-system":    "system_projections.ignore",
	"journal":          "journal.path",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"metrics-textfile": "metrics.textfile",
	"trace":            "tracing.enabled",
}

// Load resolves the configuration. configPath may be empty, in which case
// linktrunc.yaml is looked up in the working directory and
// $HOME/.config/linktrunc. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("linktrunc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/linktrunc")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.SystemProjections.Ignore == nil {
		cfg.SystemProjections.Ignore = []string{}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("connection", defaultConnection)

	v.SetDefault("http.url", defaultHTTPURL)
	v.SetDefault("http.username", defaultUsername)
	v.SetDefault("http.password", defaultPassword)
	v.SetDefault("http.timeout", defaultHTTPTimeout)

	v.SetDefault("scan.page_size", defaultPageSize)
	v.SetDefault("scan.progress_interval", defaultProgressInterval)

	v.SetDefault("lookups.concurrency", defaultConcurrency)
	v.SetDefault("system_projections.ignore", []string{})

	v.SetDefault("journal.path", defaultJournalPath)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("tracing.enabled", false)
}
