// Package config handles configuration loading, validation, and management for styleauth.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"styleauth/internal/auth"
	"styleauth/internal/features"
	"styleauth/internal/logging"
	"styleauth/internal/model"
	"styleauth/internal/novelty"
	"styleauth/internal/store"
	"styleauth/internal/trainer"
	"styleauth/internal/trust"
)

// Version is the current configuration schema version.
const Version = 1

// Analyzer names accepted in features.analyzer.
const (
	AnalyzerProse      = features.AnalyzerProse
	AnalyzerWhitespace = features.AnalyzerWhitespace
)

// Config holds the complete configuration shared by training and serving.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Grid is the (nu, gamma) hyperparameter grid; every user's bank has one
	// model per point.
	Grid model.Grid `toml:"grid" json:"grid" yaml:"grid"`

	// Trust tunes the per-session trust state machine.
	Trust trust.Params `toml:"trust" json:"trust" yaml:"trust"`

	Features FeaturesConfig `toml:"features" json:"features" yaml:"features"`

	// Storage configuration for model bundles and decision history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	Training TrainingConfig `toml:"training" json:"training" yaml:"training"`

	// Service configuration for the online authentication path.
	Service ServiceConfig `toml:"service" json:"service" yaml:"service"`

	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// FeaturesConfig selects the feature schema and text analyzer.
type FeaturesConfig struct {
	SchemaVersion int `toml:"schema_version" json:"schema_version" yaml:"schema_version"`

	// Analyzer is "prose" (POS tagging) or "whitespace" (no tagger).
	Analyzer string `toml:"analyzer" json:"analyzer" yaml:"analyzer"`
}

// StorageConfig holds model store configuration.
type StorageConfig struct {
	// Type is "sqlite" or "file".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the database file for sqlite or the bundle directory for file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// IntegrityKeyFile holds the master secret for bundle MACs. Empty
	// disables integrity tags.
	IntegrityKeyFile string `toml:"integrity_key_file" json:"integrity_key_file" yaml:"integrity_key_file"`

	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// TrainingConfig holds offline training configuration.
type TrainingConfig struct {
	TestFraction  float64 `toml:"test_fraction" json:"test_fraction" yaml:"test_fraction"`
	Seed          int64   `toml:"seed" json:"seed" yaml:"seed"`
	Tolerance     float64 `toml:"tolerance" json:"tolerance" yaml:"tolerance"`
	MaxIterations int     `toml:"max_iterations" json:"max_iterations" yaml:"max_iterations"`

	// Workers bounds concurrent model fits; 0 uses every CPU.
	Workers int `toml:"workers" json:"workers" yaml:"workers"`
}

// ServiceConfig holds online authentication configuration.
type ServiceConfig struct {
	LoadTimeoutMs      int     `toml:"load_timeout_ms" json:"load_timeout_ms" yaml:"load_timeout_ms"`
	BankCacheSize      int     `toml:"bank_cache_size" json:"bank_cache_size" yaml:"bank_cache_size"`
	SessionIdleMinutes int     `toml:"session_idle_minutes" json:"session_idle_minutes" yaml:"session_idle_minutes"`
	PromptsPerMinute   float64 `toml:"prompts_per_minute" json:"prompts_per_minute" yaml:"prompts_per_minute"`
	Burst              int     `toml:"burst" json:"burst" yaml:"burst"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AuditPath is the audit log file. Empty disables auditing.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	ac := auth.DefaultConfig()

	return &Config{
		Version: Version,
		Grid:    model.DefaultGrid(),
		Trust:   trust.DefaultParams(),
		Features: FeaturesConfig{
			SchemaVersion: int(features.V1),
			Analyzer:      AnalyzerProse,
		},
		Storage: StorageConfig{
			Type:             store.TypeSQLite,
			Path:             filepath.Join(dir, "models.db"),
			IntegrityKeyFile: filepath.Join(dir, "integrity.key"),
			BusyTimeoutMs:    5000,
		},
		Training: TrainingConfig{
			TestFraction: trainer.DefaultTestFraction,
			Seed:         trainer.DefaultSeed,
			Tolerance:    novelty.DefaultTolerance,
		},
		Service: ServiceConfig{
			LoadTimeoutMs:      int(ac.LoadTimeout / time.Millisecond),
			BankCacheSize:      ac.CacheSize,
			SessionIdleMinutes: int(ac.SessionIdle / time.Minute),
			PromptsPerMinute:   ac.PromptsPerMinute,
			Burst:              ac.Burst,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "styleauth.log"),
			AuditPath:  filepath.Join(PlatformLogDir(), "audit.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		// TOML is the native format.
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the store and logs write into.
func (c *Config) EnsureDirectories() error {
	storeDir := filepath.Dir(c.Storage.Path)
	if c.Storage.Type == store.TypeFile {
		storeDir = c.Storage.Path
	}
	dirs := []string{storeDir}
	if c.Storage.IntegrityKeyFile != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.IntegrityKeyFile))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Logging.AuditPath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.AuditPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DataDir returns the base styleauth data directory.
// Uses platform-specific paths or the STYLEAUTH_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("STYLEAUTH_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with STYLEAUTH_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Storage overrides
	if v := os.Getenv("STYLEAUTH_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("STYLEAUTH_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("STYLEAUTH_INTEGRITY_KEY_FILE"); v != "" {
		c.Storage.IntegrityKeyFile = v
	}

	// Logging overrides
	if v := os.Getenv("STYLEAUTH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STYLEAUTH_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("STYLEAUTH_AUDIT_PATH"); v != "" {
		c.Logging.AuditPath = v
	}

	// Metrics overrides
	if v := os.Getenv("STYLEAUTH_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
		c.Metrics.Enabled = true
	}

	// Training overrides
	if v := os.Getenv("STYLEAUTH_TRAINING_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Training.Workers = n
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Grid:     c.Grid,
		Trust:    c.Trust,
		Features: c.Features,
		Storage:  c.Storage,
		Training: c.Training,
		Service:  c.Service,
		Metrics:  c.Metrics,
		Logging:  c.Logging,
	}

	// Deep copy slices
	clone.Grid.Nus = append([]float64{}, c.Grid.Nus...)
	clone.Grid.Gammas = append([]float64{}, c.Grid.Gammas...)

	return clone
}

// AuthConfig returns the serving configuration.
func (c *Config) AuthConfig() auth.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return auth.Config{
		Grid:             c.Grid,
		Trust:            c.Trust,
		LoadTimeout:      time.Duration(c.Service.LoadTimeoutMs) * time.Millisecond,
		CacheSize:        c.Service.BankCacheSize,
		SessionIdle:      time.Duration(c.Service.SessionIdleMinutes) * time.Minute,
		PromptsPerMinute: c.Service.PromptsPerMinute,
		Burst:            c.Service.Burst,
	}
}

// TrainerOptions returns the offline training options.
func (c *Config) TrainerOptions() trainer.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return trainer.Options{
		Grid:          c.Grid,
		TestFraction:  c.Training.TestFraction,
		Seed:          c.Training.Seed,
		Tolerance:     c.Training.Tolerance,
		MaxIterations: c.Training.MaxIterations,
		Workers:       c.Training.Workers,
	}
}

// StoreOptions returns the store backend selection. The sealer is built by
// the caller from Storage.IntegrityKeyFile.
func (c *Config) StoreOptions(sealer *store.Sealer) store.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return store.Options{
		Type:        c.Storage.Type,
		Path:        c.Storage.Path,
		Sealer:      sealer,
		BusyTimeout: time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond,
	}
}

// Extractor builds the feature extractor named by the features section.
func (c *Config) Extractor() (*features.Extractor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schema, err := features.Lookup(features.Version(c.Features.SchemaVersion))
	if err != nil {
		return nil, err
	}
	var analyzer features.Analyzer
	switch c.Features.Analyzer {
	case AnalyzerProse, "":
		analyzer = features.NewProseAnalyzer()
	case AnalyzerWhitespace:
		analyzer = features.WhitespaceAnalyzer{}
	default:
		return nil, fmt.Errorf("unknown analyzer %q", c.Features.Analyzer)
	}
	return features.NewExtractor(schema, analyzer), nil
}

// LoggerConfig translates the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = c.Logging.MaxSizeMB
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.MaxBackups = c.Logging.MaxBackups
	lc.Compress = c.Logging.Compress
	return lc, nil
}

// AuditConfig returns the audit logger configuration, or nil when auditing
// is disabled.
func (c *Config) AuditConfig() *logging.AuditLoggerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Logging.AuditPath == "" {
		return nil
	}
	ac := logging.DefaultAuditConfig()
	ac.FilePath = c.Logging.AuditPath
	ac.MaxSize = c.Logging.MaxSizeMB
	ac.MaxAge = c.Logging.MaxAgeDays
	ac.MaxBackups = c.Logging.MaxBackups
	ac.Compress = c.Logging.Compress
	return ac
}
