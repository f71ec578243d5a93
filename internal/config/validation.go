package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"styleauth/internal/features"
	"styleauth/internal/store"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error { return ErrInvalidConfig }

// ErrInvalidConfig is matched by every ValidationErrors returned from
// ValidateConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig validates c and returns ValidationErrors holding every
// problem when at least one is not a warning.
func ValidateConfig(c *Config) error {
	errs := Check(c)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Check returns every validation finding for c, warnings included.
func Check(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if err := c.Grid.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "grid", Message: err.Error()})
	}
	if err := c.Trust.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "trust", Message: err.Error()})
	}

	errs = append(errs, validateFeatures(&c.Features)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateTraining(&c.Training)...)
	errs = append(errs, validateService(&c.Service)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	return errs
}

func validateFeatures(f *FeaturesConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := features.Lookup(features.Version(f.SchemaVersion)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "features.schema_version",
			Message: err.Error(),
		})
	}

	switch f.Analyzer {
	case AnalyzerProse, AnalyzerWhitespace:
	default:
		errs = append(errs, ValidationError{
			Field:   "features.analyzer",
			Message: fmt.Sprintf("invalid analyzer: %s (valid: prose, whitespace)", f.Analyzer),
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case store.TypeSQLite, store.TypeFile:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, file)", s.Type),
		})
	}

	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}

	if s.IntegrityKeyFile == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.integrity_key_file",
			Message: "not set; bundles are stored without integrity tags",
		})
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	return errs
}

func validateTraining(t *TrainingConfig) ValidationErrors {
	var errs ValidationErrors

	if !(t.TestFraction >= 0 && t.TestFraction < 1) {
		errs = append(errs, *RangeError("training.test_fraction", 0, "1 (exclusive)"))
	}
	if t.Tolerance < 0 {
		errs = append(errs, ValidationError{
			Field:   "training.tolerance",
			Message: "tolerance cannot be negative",
		})
	}
	if t.MaxIterations < 0 {
		errs = append(errs, ValidationError{
			Field:   "training.max_iterations",
			Message: "max iterations cannot be negative",
		})
	}
	if t.Workers < 0 {
		errs = append(errs, ValidationError{
			Field:   "training.workers",
			Message: "workers cannot be negative",
		})
	}

	return errs
}

func validateService(s *ServiceConfig) ValidationErrors {
	var errs ValidationErrors

	if s.LoadTimeoutMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "service.load_timeout_ms",
			Message: "load timeout must be at least 1 ms",
		})
	}
	if s.BankCacheSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "service.bank_cache_size",
			Message: "bank cache must hold at least one user",
		})
	}
	if s.SessionIdleMinutes < 1 {
		errs = append(errs, ValidationError{
			Field:   "service.session_idle_minutes",
			Message: "session idle timeout must be at least 1 minute",
		})
	}
	if s.PromptsPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "service.prompts_per_minute",
			Message: "prompt rate cannot be negative (0 disables throttling)",
		})
	}
	if s.PromptsPerMinute > 0 && s.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "service.burst",
			Message: "burst must be at least 1 when throttling is enabled",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	warningFields := []string{
		"storage.integrity_key_file",
	}
	for _, f := range warningFields {
		if strings.HasPrefix(e.Field, f) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
