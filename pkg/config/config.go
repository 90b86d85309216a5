// Package config loads the config generator configuration from file,
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/config-generator/pkg/batch"
	"github.com/yourorg/config-generator/pkg/db"
	"github.com/yourorg/config-generator/pkg/render"
)

// EnvPrefix prefixes every environment override, e.g. CG_SERVER_PORT
const EnvPrefix = "CG"

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  db.Config       `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Render    render.Options  `mapstructure:"render"`
	Batch     batch.Options   `mapstructure:"batch"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       zapcore.Level `mapstructure:"level"`
	Development bool          `mapstructure:"development"`
	Encoding    string        `mapstructure:"encoding"`
}

// AuditConfig contains audit event settings. Events always go to the
// application log; QuickwitURL adds a search index sink.
type AuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	QuickwitURL   string        `mapstructure:"quickwit_url"`
	IndexID       string        `mapstructure:"index_id"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// MetricsConfig contains prometheus settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// RateLimitConfig contains API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Loader handles configuration loading from multiple sources
type Loader struct {
	v          *viper.Viper
	configPath string

	mu       sync.Mutex
	watching bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigPath sets the configuration file path
func (l *Loader) SetConfigPath(path string) {
	l.configPath = path
}

// Load loads the configuration from defaults, the config file and the
// environment, in increasing priority.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/config-generator")
		l.v.AddConfigPath("$HOME/.config-generator")
	}

	// Read config file (ignore if not found)
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the config file changes and
// passes the result to onChange. Decode failures are passed as errors and
// the previous configuration stays in effect. Watch is a no-op when no
// config file was found.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		onChange(cfg, err)
	})
	l.v.WatchConfig()
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Server defaults
	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 5000)
	l.v.SetDefault("server.mode", "release")
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "60s")
	l.v.SetDefault("server.shutdown_timeout", "15s")
	l.v.SetDefault("server.max_upload_bytes", 16<<20)
	l.v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	l.v.SetDefault("database.driver", db.DriverSQLite)
	l.v.SetDefault("database.dsn", "data/templates.db")
	l.v.SetDefault("database.max_connections", 25)
	l.v.SetDefault("database.max_idle_connections", 5)
	l.v.SetDefault("database.connection_lifetime", "5m")
	l.v.SetDefault("database.log_level", "warn")

	// Logging defaults
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.development", false)
	l.v.SetDefault("logging.encoding", "json")

	// Render defaults
	l.v.SetDefault("render.strict_undefined", true)
	l.v.SetDefault("render.trim_blocks", false)
	l.v.SetDefault("render.lstrip_blocks", false)

	// Batch defaults
	defaults := batch.DefaultOptions()
	l.v.SetDefault("batch.template_field", defaults.TemplateField)
	l.v.SetDefault("batch.switch_name_field", defaults.SwitchNameField)
	l.v.SetDefault("batch.switch_port_field", defaults.SwitchPortField)
	l.v.SetDefault("batch.ports_alias", defaults.PortsAlias)
	l.v.SetDefault("batch.switches_alias", defaults.SwitchesAlias)

	// Audit defaults
	l.v.SetDefault("audit.enabled", true)
	l.v.SetDefault("audit.index_id", "config-generator-audit")
	l.v.SetDefault("audit.batch_size", 100)
	l.v.SetDefault("audit.flush_interval", "5s")

	// Metrics defaults
	l.v.SetDefault("metrics.enabled", true)
	l.v.SetDefault("metrics.path", "/metrics")
	l.v.SetDefault("metrics.namespace", "config_generator")

	// Rate limit defaults
	l.v.SetDefault("rate_limit.enabled", false)
	l.v.SetDefault("rate_limit.requests_per_second", 50)
	l.v.SetDefault("rate_limit.burst", 100)
}

// GetConfigPath returns the path to the configuration file being used
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}
