// Package trainer builds a user's model bank from labelled writing samples.
//
// For each user the texts are shuffled with a fixed seed and split into a
// training and a held-out test part. One scaler is fit on the training
// features and shared by every model of the bank; one one-class SVM is then
// trained per grid point, in parallel, and every bundle is saved to the
// store. Given the same texts, grid and options the resulting bundles are
// identical.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"styleauth/internal/corpus"
	"styleauth/internal/features"
	"styleauth/internal/logging"
	"styleauth/internal/metrics"
	"styleauth/internal/model"
	"styleauth/internal/novelty"
	"styleauth/internal/store"
)

// Defaults for Options.
const (
	DefaultTestFraction = 0.15
	DefaultSeed         = 42
	minTrainSamples     = 2
)

// ErrInsufficientData is returned when a user has too few texts to train on.
var ErrInsufficientData = errors.New("trainer: insufficient training data")

// Options controls a training run.
type Options struct {
	Grid model.Grid
	// TestFraction of each user's texts is held out, rounded up.
	TestFraction float64
	Seed         int64
	// Tolerance and MaxIterations are passed to the solver; zero selects
	// its defaults.
	Tolerance     float64
	MaxIterations int
	// Workers bounds concurrent model fits; zero means GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the options used by the reference deployment.
func DefaultOptions() Options {
	return Options{
		Grid:         model.DefaultGrid(),
		TestFraction: DefaultTestFraction,
		Seed:         DefaultSeed,
		Tolerance:    novelty.DefaultTolerance,
	}
}

// Validate reports option values the trainer cannot work with.
func (o Options) Validate() error {
	if err := o.Grid.Validate(); err != nil {
		return err
	}
	if o.TestFraction < 0 || o.TestFraction >= 1 || math.IsNaN(o.TestFraction) {
		return fmt.Errorf("trainer: test fraction %v outside [0, 1)", o.TestFraction)
	}
	if o.Workers < 0 {
		return fmt.Errorf("trainer: negative worker count %d", o.Workers)
	}
	if o.Tolerance < 0 || o.MaxIterations < 0 {
		return errors.New("trainer: negative solver limits")
	}
	return nil
}

// Saver receives trained bundles. Savers that also implement
// store.BatchSaver get each user's bank in a single call.
type Saver interface {
	Save(ctx context.Context, m *model.UserModel) error
}

// ModelSummary describes one trained grid point.
type ModelSummary struct {
	Key                 model.Key
	SupportVectors      int
	Rho                 float64
	MaxDecisionDistance float64
	Iterations          int
	Converged           bool
}

// Report is the result of training one user.
type Report struct {
	UserID       string
	TrainSamples int
	// TestTexts are the held-out texts, in split order.
	TestTexts []string
	Models    []ModelSummary
	// Bank is the freshly trained bank, identical to what the store now holds.
	Bank     *model.Bank
	Duration time.Duration
}

// Trainer trains and persists model banks.
type Trainer struct {
	opts      Options
	extractor *features.Extractor
	saver     Saver
	logger    *logging.Logger
	audit     *logging.AuditLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures optional Trainer collaborators.
type Option func(*Trainer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(t *Trainer) { t.logger = l } }

// WithAudit sets the audit logger.
func WithAudit(a *logging.AuditLogger) Option { return func(t *Trainer) { t.audit = a } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(t *Trainer) { t.metrics = m } }

// WithClock overrides the time source used for TrainedAt.
func WithClock(now func() time.Time) Option { return func(t *Trainer) { t.now = now } }

// New returns a Trainer. saver may be nil, in which case nothing is persisted.
func New(opts Options, extractor *features.Extractor, saver Saver, options ...Option) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, errors.New("trainer: nil extractor")
	}
	t := &Trainer{
		opts:      opts,
		extractor: extractor,
		saver:     saver,
		now:       time.Now,
	}
	for _, o := range options {
		o(t)
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	t.logger = t.logger.WithComponent("trainer")
	return t, nil
}

// Split shuffles texts with seed and holds out ceil(testFraction*n) of them.
// The input slice is not modified.
func Split(texts []string, testFraction float64, seed int64) (train, test []string) {
	n := len(texts)
	nTest := 0
	if testFraction > 0 {
		nTest = int(math.Ceil(testFraction * float64(n)))
	}
	if nTest > n {
		nTest = n
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)
	test = make([]string, 0, nTest)
	train = make([]string, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, texts[idx])
		} else {
			train = append(train, texts[idx])
		}
	}
	return train, test
}

// TrainUser trains every grid model for userID from texts and saves them.
func (t *Trainer) TrainUser(ctx context.Context, userID string, texts []string) (*Report, error) {
	if userID == "" {
		return nil, errors.New("trainer: empty user id")
	}
	start := time.Now()

	trainTexts, testTexts := Split(texts, t.opts.TestFraction, t.opts.Seed)
	if len(trainTexts) < minTrainSamples {
		return nil, fmt.Errorf("%w: user %q has %d texts, %d left for training", ErrInsufficientData, userID, len(texts), len(trainTexts))
	}

	raw := make([][]float64, len(trainTexts))
	for i, text := range trainTexts {
		raw[i] = t.extractor.Extract(text)
	}
	scaler, err := novelty.FitScaler(raw)
	if err != nil {
		return nil, fmt.Errorf("fit scaler for %q: %w", userID, err)
	}
	scaled, err := scaler.TransformAll(raw)
	if err != nil {
		return nil, fmt.Errorf("scale training set for %q: %w", userID, err)
	}

	keys := t.opts.Grid.Keys()
	models := make([]*model.UserModel, len(keys))
	infos := make([]novelty.TrainInfo, len(keys))
	trainedAt := t.now().UTC()
	version := t.extractor.Schema().Version()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers())
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			svm, info, err := novelty.Train(gctx, scaled, k.Nu, k.Gamma, novelty.TrainOptions{
				Tolerance:     t.opts.Tolerance,
				MaxIterations: t.opts.MaxIterations,
			})
			if err != nil {
				return fmt.Errorf("train %q %s: %w", userID, k, err)
			}
			dist, err := model.CalibrationDistance(svm, scaled)
			if err != nil {
				return fmt.Errorf("calibrate %q %s: %w", userID, k, err)
			}
			models[i] = &model.UserModel{
				UserID:              userID,
				Nu:                  k.Nu,
				Gamma:               k.Gamma,
				SchemaVersion:       version,
				Analyzer:            t.extractor.AnalyzerName(),
				Scaler:              scaler,
				SVM:                 svm,
				MaxDecisionDistance: dist,
				TrainedAt:           trainedAt,
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bank, err := model.NewBank(userID, t.opts.Grid, models)
	if err != nil {
		return nil, fmt.Errorf("assemble bank for %q: %w", userID, err)
	}

	if err := t.save(ctx, models); err != nil {
		return nil, err
	}

	report := &Report{
		UserID:       userID,
		TrainSamples: len(trainTexts),
		TestTexts:    testTexts,
		Models:       make([]ModelSummary, len(models)),
		Bank:         bank,
		Duration:     time.Since(start),
	}
	for i, m := range models {
		if !infos[i].Converged {
			t.logger.Warn("solver hit iteration limit", "user_id", userID, "model", m.Key().String(), "iterations", infos[i].Iterations)
		}
		report.Models[i] = ModelSummary{
			Key:                 m.Key(),
			SupportVectors:      len(m.SVM.SupportVectors),
			Rho:                 m.SVM.Rho,
			MaxDecisionDistance: m.MaxDecisionDistance,
			Iterations:          infos[i].Iterations,
			Converged:           infos[i].Converged,
		}
	}

	if rec, ok := t.saver.(store.TrainingRecorder); ok {
		err := rec.RecordTrainingRun(ctx, store.TrainingRun{
			UserID:        userID,
			TrainSamples:  len(trainTexts),
			TestSamples:   len(testTexts),
			Models:        len(models),
			SchemaVersion: version,
			Duration:      report.Duration,
			CreatedAt:     trainedAt,
		})
		if err != nil {
			t.logger.Warn("record training run failed", "user_id", userID, "error", err)
		}
	}

	t.metrics.AddTrainedModels(len(models))
	if err := t.audit.LogTrainingRun(ctx, userID, len(models), len(trainTexts), len(testTexts)); err != nil {
		t.logger.Warn("audit write failed", "error", err)
	}
	t.logger.Info("trained user",
		"user_id", userID,
		"models", len(models),
		"train_samples", len(trainTexts),
		"test_samples", len(testTexts),
		"duration", report.Duration,
	)
	return report, nil
}

// TrainAll trains every user of c in sorted order. Users with too few texts
// are skipped and listed; any other error aborts the run.
func (t *Trainer) TrainAll(ctx context.Context, c *corpus.Corpus) (reports []*Report, skipped []string, err error) {
	for _, user := range c.Users() {
		if err := ctx.Err(); err != nil {
			return reports, skipped, err
		}
		r, err := t.TrainUser(ctx, user, c.Texts(user))
		if errors.Is(err, ErrInsufficientData) {
			t.logger.Warn("skipping user", "user_id", user, "error", err)
			skipped = append(skipped, user)
			continue
		}
		if err != nil {
			return reports, skipped, err
		}
		reports = append(reports, r)
	}
	return reports, skipped, nil
}

// save writes the whole bank at once when the saver supports batches, so a
// failed retrain never leaves old and new bundles mixed.
func (t *Trainer) save(ctx context.Context, models []*model.UserModel) error {
	switch s := t.saver.(type) {
	case nil:
		return nil
	case store.BatchSaver:
		return s.SaveAll(ctx, models)
	default:
		for _, m := range models {
			if err := s.Save(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *Trainer) workers() int {
	if t.opts.Workers > 0 {
		return t.opts.Workers
	}
	return runtime.GOMAXPROCS(0)
}
