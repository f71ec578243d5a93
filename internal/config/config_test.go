package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"styleauth/internal/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STYLEAUTH_DATA_DIR", dir)

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	if got := cfg.Grid.Size(); got != 18 {
		t.Errorf("expected 3x6 grid, got %d points", got)
	}
	if cfg.Trust.Baseline != 0.6 || cfg.Trust.LockoutFloor != 0.3 {
		t.Errorf("unexpected trust defaults: %+v", cfg.Trust)
	}
	if !strings.HasPrefix(cfg.Storage.Path, dir) {
		t.Errorf("storage path should live under data dir %s: %s", dir, cfg.Storage.Path)
	}
	if cfg.Training.TestFraction != 0.15 {
		t.Errorf("expected test fraction 0.15, got %v", cfg.Training.TestFraction)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "styleauth") {
		t.Errorf("config path should contain styleauth: %s", path)
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("STYLEAUTH_DATA_DIR", "/srv/styleauth")
	if got := DataDir(); got != "/srv/styleauth" {
		t.Errorf("expected override, got %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.BankCacheSize != 128 {
		t.Errorf("expected default cache size, got %d", cfg.Service.BankCacheSize)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
# comment
[grid]
nus = [0.01]
gammas = [0.1, 0.2]

[trust]
lockout_floor = 0.25 # inline comment

[service]
prompts_per_minute = 10
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"grid": {"nus": [0.01], "gammas": [0.1, 0.2]}, "trust": {"lockout_floor": 0.25}, "service": {"prompts_per_minute": 10}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
grid:
  nus: [0.01]
  gammas: [0.1, 0.2]
trust:
  lockout_floor: 0.25
service:
  prompts_per_minute: 10
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Grid.Size() != 2 {
				t.Errorf("expected 2 grid points, got %d", cfg.Grid.Size())
			}
			if cfg.Trust.LockoutFloor != 0.25 {
				t.Errorf("expected floor 0.25, got %v", cfg.Trust.LockoutFloor)
			}
			// Unset keys keep their defaults.
			if cfg.Trust.Baseline != 0.6 {
				t.Errorf("expected default baseline, got %v", cfg.Trust.Baseline)
			}
			if cfg.Service.PromptsPerMinute != 10 {
				t.Errorf("expected 10 prompts/min, got %v", cfg.Service.PromptsPerMinute)
			}
			if cfg.Service.Burst != 5 {
				t.Errorf("expected default burst, got %d", cfg.Service.Burst)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "this is not valid toml {{{\n")

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STYLEAUTH_STORAGE_TYPE", "file")
	t.Setenv("STYLEAUTH_STORAGE_PATH", "/data/bundles")
	t.Setenv("STYLEAUTH_LOG_LEVEL", "debug")
	t.Setenv("STYLEAUTH_METRICS_ADDR", "0.0.0.0:9000")
	t.Setenv("STYLEAUTH_TRAINING_WORKERS", "3")

	cfg := LoadFromEnv()
	if cfg.Storage.Type != "file" || cfg.Storage.Path != "/data/bundles" {
		t.Errorf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("metrics override not applied: %+v", cfg.Metrics)
	}
	if cfg.Training.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Training.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 99 }, "version"},
		{"empty grid", func(c *Config) { c.Grid.Nus = nil }, "grid"},
		{"trust", func(c *Config) { c.Trust.LockoutFloor = 2 }, "trust"},
		{"schema", func(c *Config) { c.Features.SchemaVersion = 7 }, "features.schema_version"},
		{"analyzer", func(c *Config) { c.Features.Analyzer = "spacy" }, "features.analyzer"},
		{"storage type", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"test fraction", func(c *Config) { c.Training.TestFraction = 1 }, "training.test_fraction"},
		{"cache size", func(c *Config) { c.Service.BankCacheSize = 0 }, "service.bank_cache_size"},
		{"burst", func(c *Config) { c.Service.Burst = 0 }, "service.burst"},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "nope" }, "metrics.listen_addr"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateWarningOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.IntegrityKeyFile = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("missing integrity key should only warn: %v", err)
	}
	warnings := Check(cfg).Warnings()
	if len(warnings) != 1 || warnings[0].Field != "storage.integrity_key_file" {
		t.Errorf("expected one integrity warning, got %v", warnings)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Grid.Nus[0] = 0.9
	clone.Storage.Path = "/elsewhere"

	if cfg.Grid.Nus[0] == 0.9 {
		t.Error("clone shares grid slice with original")
	}
	if cfg.Storage.Path == "/elsewhere" {
		t.Error("clone shares storage section with original")
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.LoadTimeoutMs = 250
	cfg.Service.SessionIdleMinutes = 2
	cfg.Training.Workers = 4

	ac := cfg.AuthConfig()
	if ac.LoadTimeout != 250*time.Millisecond || ac.SessionIdle != 2*time.Minute {
		t.Errorf("unexpected auth durations: %v %v", ac.LoadTimeout, ac.SessionIdle)
	}
	if err := ac.Validate(); err != nil {
		t.Errorf("auth config should be valid: %v", err)
	}

	opts := cfg.TrainerOptions()
	if opts.Workers != 4 || opts.Seed != 42 {
		t.Errorf("unexpected trainer options: %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("trainer options should be valid: %v", err)
	}

	so := cfg.StoreOptions(nil)
	if so.Type != "sqlite" || so.BusyTimeout != 5*time.Second {
		t.Errorf("unexpected store options: %+v", so)
	}

	lc, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatalf("LoggerConfig failed: %v", err)
	}
	if lc.Level != logging.LevelInfo || lc.MaxSize != 100 {
		t.Errorf("unexpected logger config: %+v", lc)
	}

	if ac := cfg.AuditConfig(); ac == nil || ac.FilePath != cfg.Logging.AuditPath {
		t.Errorf("unexpected audit config: %+v", ac)
	}
	cfg.Logging.AuditPath = ""
	if cfg.AuditConfig() != nil {
		t.Error("empty audit path should disable auditing")
	}
}

func TestExtractor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Features.Analyzer = AnalyzerWhitespace

	ex, err := cfg.Extractor()
	if err != nil {
		t.Fatalf("Extractor failed: %v", err)
	}
	if ex.Schema().Len() != 16 {
		t.Errorf("expected 16 features, got %d", ex.Schema().Len())
	}

	cfg.Features.Analyzer = "unknown"
	if _, err := cfg.Extractor(); err == nil {
		t.Error("expected error for unknown analyzer")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(tmpDir, "a", "b", "models.db")
	cfg.Storage.IntegrityKeyFile = filepath.Join(tmpDir, "keys", "integrity.key")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "styleauth.log")
	cfg.Logging.AuditPath = filepath.Join(tmpDir, "audit", "audit.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{"a/b", "keys", "logs", "audit"} {
		if _, err := os.Stat(filepath.Join(tmpDir, dir)); err != nil {
			t.Errorf("%s was not created: %v", dir, err)
		}
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "nested", name)

			cfg := DefaultConfig()
			cfg.Grid.Gammas = []float64{0.3}
			cfg.Trust.BaseDecrease = 0.2
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("expected 0600, got %o", perm)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(loaded.Grid.Gammas) != 1 || loaded.Grid.Gammas[0] != 0.3 {
				t.Errorf("grid not preserved: %+v", loaded.Grid)
			}
			if loaded.Trust.BaseDecrease != 0.2 {
				t.Errorf("trust not preserved: %+v", loaded.Trust)
			}
		})
	}
}

func TestSaveConfigBacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[grid]\nnus = [0.5]\n")

	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	matches, _ := filepath.Glob(path + ".backup-*")
	if len(matches) != 1 {
		t.Errorf("expected one backup, got %v", matches)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created || cfg == nil {
		t.Fatal("expected a new config to be created")
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("existing config should be loaded, not created")
	}
}

func TestChangedSections(t *testing.T) {
	a := DefaultConfig()
	b := a.Clone()
	b.Trust.LockoutFloor = 0.2
	b.Service.Burst = 9

	changes := ChangedSections(a, b)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changed sections, got %+v", changes)
	}
	if changes[0].Section != "trust" || changes[1].Section != "service" {
		t.Errorf("unexpected sections: %+v", changes)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	auditPath := filepath.Join(dir, "audit.log")
	audit, err := logging.NewAuditLogger(&logging.AuditLoggerConfig{FilePath: auditPath, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer audit.Close()

	loader := NewLoader(path, WithDebounce(10*time.Millisecond), WithAuditLogger(audit))
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 4)
	loader.OnChange(func(c *Config) { changed <- c })
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Service.Burst = 11
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	select {
	case c := <-changed:
		if c.Service.Burst != 11 {
			t.Errorf("expected burst 11, got %d", c.Service.Burst)
		}
	case err := <-loader.Errors():
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if loader.Config().Service.Burst != 11 {
		t.Error("loader did not keep the reloaded config")
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "config_change") {
		t.Errorf("expected config_change audit event, got %s", data)
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loader := NewLoader(path, WithDebounce(10*time.Millisecond))
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, path, "[service]\nbank_cache_size = 0\n")

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if loader.Config().Service.BankCacheSize != 128 {
		t.Error("invalid reload replaced the config")
	}
}
