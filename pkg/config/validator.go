package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yourorg/config-generator/pkg/db"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateServer(cfg.Server)
	v.validateDatabase(cfg.Database)
	v.validateLogging(cfg.Logging)
	v.validateBatch(cfg)
	v.validateAudit(cfg.Audit)
	v.validateMetrics(cfg.Metrics)
	v.validateRateLimit(cfg.RateLimit)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(cfg ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", "must be between 1 and 65535")
	}

	switch cfg.Mode {
	case "debug", "release", "test":
	default:
		v.addError("server.mode", "must be one of debug, release, test")
	}

	if cfg.ReadTimeout <= 0 {
		v.addError("server.read_timeout", "must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		v.addError("server.write_timeout", "must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		v.addError("server.max_upload_bytes", "must be positive")
	}
}

func (v *Validator) validateDatabase(cfg db.Config) {
	switch cfg.Driver {
	case db.DriverSQLite:
		if cfg.DSN == "" && cfg.Database == "" {
			v.addError("database.dsn", "sqlite requires a dsn or database path")
		}
	case db.DriverMySQL, db.DriverPostgres:
		if cfg.DSN == "" {
			if cfg.Host == "" {
				v.addError("database.host", "required when dsn is not set")
			}
			if cfg.Database == "" {
				v.addError("database.database", "required when dsn is not set")
			}
			if cfg.Port < 1 || cfg.Port > 65535 {
				v.addError("database.port", "must be between 1 and 65535")
			}
		}
		if cfg.MaxConnections < 1 {
			v.addError("database.max_connections", "must be at least 1")
		}
		if cfg.MaxIdleConnections > cfg.MaxConnections {
			v.addError("database.max_idle_connections", "must not exceed max_connections")
		}
	default:
		v.addError("database.driver", fmt.Sprintf("unsupported driver %q", cfg.Driver))
	}

	switch cfg.LogLevel {
	case "", "silent", "error", "warn", "info":
	default:
		v.addError("database.log_level", "must be one of silent, error, warn, info")
	}
}

func (v *Validator) validateLogging(cfg LoggingConfig) {
	switch cfg.Encoding {
	case "json", "console":
	default:
		v.addError("logging.encoding", "must be json or console")
	}
}

func (v *Validator) validateBatch(cfg *Config) {
	b := cfg.Batch
	fields := map[string]string{
		"batch.template_field":    b.TemplateField,
		"batch.switch_name_field": b.SwitchNameField,
		"batch.switch_port_field": b.SwitchPortField,
		"batch.ports_alias":       b.PortsAlias,
		"batch.switches_alias":    b.SwitchesAlias,
	}
	for field, value := range fields {
		if strings.TrimSpace(value) == "" {
			v.addError(field, "must not be empty")
		}
	}
	if b.PortsAlias != "" && b.PortsAlias == b.SwitchesAlias {
		v.addError("batch.switches_alias", "must differ from ports_alias")
	}
}

func (v *Validator) validateAudit(cfg AuditConfig) {
	if cfg.QuickwitURL == "" {
		return
	}
	if u, err := url.Parse(cfg.QuickwitURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("audit.quickwit_url", "invalid URL format")
	}
	if cfg.IndexID == "" {
		v.addError("audit.index_id", "required when quickwit_url is set")
	}
	if cfg.BatchSize < 1 {
		v.addError("audit.batch_size", "must be at least 1")
	}
	if cfg.FlushInterval <= 0 {
		v.addError("audit.flush_interval", "must be positive")
	}
}

func (v *Validator) validateMetrics(cfg MetricsConfig) {
	if cfg.Enabled && !strings.HasPrefix(cfg.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
}

func (v *Validator) validateRateLimit(cfg RateLimitConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.RequestsPerSecond <= 0 {
		v.addError("rate_limit.requests_per_second", "must be positive")
	}
	if cfg.Burst < 1 {
		v.addError("rate_limit.burst", "must be at least 1")
	}
}

// addError adds a validation error
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}
