// Package config loads toolq settings from .toolq.yaml, environment
// variables and built-in defaults, in that order of precedence (environment
// wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/toolq/toolq/internal/logging"
)

// Config is the full application configuration.
type Config struct {
	// Workspace is the project root actions apply inside. "." means the
	// current directory; an explicitly empty value leaves the workspace
	// unset and every file action fails until one is configured.
	Workspace string `mapstructure:"workspace" yaml:"workspace"`

	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	Color      bool   `mapstructure:"color" yaml:"color"`
	IDStrategy string `mapstructure:"id_strategy" yaml:"id_strategy"`

	Approval ApprovalConfig `mapstructure:"approval" yaml:"approval"`
	Diff     DiffConfig     `mapstructure:"diff" yaml:"diff"`
	Listing  ListingConfig  `mapstructure:"listing" yaml:"listing"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// ApprovalConfig controls the interactive prompt.
type ApprovalConfig struct {
	// Timeout bounds how long a prompt waits before skipping the action.
	// Zero waits forever.
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AutoApprove bool          `mapstructure:"auto_approve" yaml:"auto_approve"`
}

// DiffConfig controls preview rendering.
type DiffConfig struct {
	// ContextLines around each change; -1 shows everything.
	ContextLines int `mapstructure:"context_lines" yaml:"context_lines"`
}

// ListingConfig controls project file listings.
type ListingConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Excludes []string      `mapstructure:"excludes" yaml:"excludes"`
}

// ServerConfig controls the serve mode HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// TracingConfig controls the OpenTelemetry exporter used in serve mode.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter   string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Manager owns the loaded configuration and the viper instance behind it.
type Manager struct {
	v   *viper.Viper
	cfg *Config
}

// NewManager loads configuration. With an explicit path the file must exist;
// otherwise .toolq.yaml is searched in the working directory and $HOME and
// may be absent.
func NewManager(explicitPath string) (*Manager, error) {
	v := viper.New()
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName(".toolq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("TOOLQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{v: v, cfg: cfg}, nil
}

// setDefaults registers every known key. Registration also makes the
// matching TOOLQ_* environment variables visible to Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("color", true)
	v.SetDefault("id_strategy", "ksuid")
	v.SetDefault("approval.timeout", 2*time.Minute)
	v.SetDefault("approval.auto_approve", false)
	v.SetDefault("diff.context_lines", 3)
	v.SetDefault("listing.cache_ttl", 30*time.Second)
	v.SetDefault("listing.excludes", []string{})
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Config returns the loaded configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

// FileUsed returns the path of the config file that was read, or "" when
// running on defaults.
func (m *Manager) FileUsed() string {
	return m.v.ConfigFileUsed()
}

// Dump renders the effective configuration as YAML.
func (m *Manager) Dump() (string, error) {
	data, err := yaml.Marshal(m.cfg)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(data), nil
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.IDStrategy) {
	case "ksuid", "uuidv7":
	default:
		return fmt.Errorf("id_strategy: unknown strategy %q", c.IDStrategy)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Diff.ContextLines < -1 {
		return fmt.Errorf("diff.context_lines: %d out of range", c.Diff.ContextLines)
	}
	if c.Approval.Timeout < 0 {
		return fmt.Errorf("approval.timeout: negative duration")
	}
	if c.Listing.CacheTTL < 0 {
		return fmt.Errorf("listing.cache_ttl: negative duration")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			return fmt.Errorf("tracing.exporter: unknown exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate: %v out of range", c.Tracing.SampleRate)
		}
	}
	return nil
}

// LogLevelValue maps the configured level onto the logging package.
func (c *Config) LogLevelValue() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}
