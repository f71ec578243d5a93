package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"styleauth/internal/auth"
	"styleauth/internal/config"
	"styleauth/internal/features"
	"styleauth/internal/logging"
	"styleauth/internal/metrics"
	"styleauth/internal/store"
	"styleauth/internal/trainer"
)

// app bundles the components a subcommand works with.
type app struct {
	cfg       *config.Config
	cfgPath   string
	logger    *logging.Logger
	audit     *logging.AuditLogger
	metrics   *metrics.Metrics
	store     store.BundleStore
	extractor *features.Extractor
}

// loadConfig reads and validates the effective configuration.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func openApp(ctx context.Context, o *rootOptions) (_ *app, err error) {
	cfg, path, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	if a.logger, err = logging.New(lc); err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	logging.SetDefault(a.logger)

	if ac := cfg.AuditConfig(); ac != nil {
		if a.audit, err = logging.NewAuditLogger(ac); err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	for _, w := range config.Check(cfg).Warnings() {
		a.logger.Warn("config warning", "field", w.Field, "detail", w.Message)
	}

	sealer, err := a.sealer(ctx)
	if err != nil {
		return nil, err
	}
	if a.store, err = store.Open(cfg.StoreOptions(sealer)); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.extractor, err = cfg.Extractor(); err != nil {
		return nil, err
	}

	a.logger.Debug("styleauth ready",
		"config", path,
		"store", cfg.Storage.Type,
		"grid_points", cfg.Grid.Size(),
	)
	return a, nil
}

// sealer loads the integrity secret, generating it on first use. A nil
// sealer disables bundle tags.
func (a *app) sealer(ctx context.Context) (*store.Sealer, error) {
	file := a.cfg.Storage.IntegrityKeyFile
	if file == "" {
		return nil, nil
	}

	_, statErr := os.Stat(file)
	master, err := store.LoadOrCreateMasterKey(file)
	if err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		a.logger.Info("generated integrity secret", "path", file)
		if err := a.audit.LogKeyGenerated(ctx, file); err != nil {
			a.logger.Warn("audit write failed", "error", err)
		}
	}
	return store.NewSealer(master)
}

func (a *app) trainer() (*trainer.Trainer, error) {
	return trainer.New(a.cfg.TrainerOptions(), a.extractor, a.store,
		trainer.WithLogger(a.logger.WithComponent("trainer")),
		trainer.WithAudit(a.audit),
		trainer.WithMetrics(a.metrics),
	)
}

func (a *app) authenticator() (*auth.Authenticator, error) {
	return auth.New(a.cfg.AuthConfig(), a.store, a.extractor,
		auth.WithLogger(a.logger.WithComponent("auth")),
		auth.WithAudit(a.audit),
		auth.WithMetrics(a.metrics),
	)
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.audit.Close())
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
