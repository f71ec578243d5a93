// Package auth serves authentication decisions from stored model banks.
//
// Authenticate is stateless: one prompt, one ensemble vote. AuthenticateStream
// feeds every prompt of a session through that session's trust machine and
// reports lockouts. Banks are loaded once per user, cached, and shared
// read-only between concurrent requests; each session is mutated by one
// request at a time.
//
// A user whose bank cannot be loaded is never authenticated: the request
// fails with ErrUnavailable, which callers must keep distinct from a DENIED
// outcome.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"styleauth/internal/ensemble"
	"styleauth/internal/features"
	"styleauth/internal/logging"
	"styleauth/internal/metrics"
	"styleauth/internal/model"
	"styleauth/internal/store"
	"styleauth/internal/trust"
)

var (
	// ErrUnavailable wraps every infrastructure failure: missing, corrupt
	// or mismatched models and store errors.
	ErrUnavailable = errors.New("auth: authentication unavailable")
	// ErrRateLimited is returned when a session sends prompts too quickly.
	ErrRateLimited = errors.New("auth: too many prompts")
	// ErrSessionUserMismatch is returned when a session id is reused for a
	// different user.
	ErrSessionUserMismatch = errors.New("auth: session belongs to another user")
)

// Outcome is the user-visible result of an authentication.
type Outcome string

const (
	Granted Outcome = "GRANTED"
	Denied  Outcome = "DENIED"
)

func outcomeOf(d ensemble.Decision) Outcome {
	if d == ensemble.Genuine {
		return Granted
	}
	return Denied
}

// Config tunes the service.
type Config struct {
	Grid  model.Grid
	Trust trust.Params
	// LoadTimeout bounds one bank load from the store.
	LoadTimeout time.Duration
	// CacheSize is the number of banks kept in memory.
	CacheSize int
	// SessionIdle is how long a session may go without prompts before Sweep
	// drops it.
	SessionIdle time.Duration
	// PromptsPerMinute and Burst throttle each session; zero disables it.
	PromptsPerMinute float64
	Burst            int
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Grid:             model.DefaultGrid(),
		Trust:            trust.DefaultParams(),
		LoadTimeout:      5 * time.Second,
		CacheSize:        128,
		SessionIdle:      30 * time.Minute,
		PromptsPerMinute: 30,
		Burst:            5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := c.Trust.Validate(); err != nil {
		return err
	}
	switch {
	case c.LoadTimeout <= 0:
		return errors.New("auth: load timeout must be positive")
	case c.CacheSize <= 0:
		return errors.New("auth: cache size must be positive")
	case c.SessionIdle <= 0:
		return errors.New("auth: session idle timeout must be positive")
	case c.PromptsPerMinute < 0 || math.IsNaN(c.PromptsPerMinute):
		return errors.New("auth: prompts per minute must not be negative")
	case c.PromptsPerMinute > 0 && c.Burst <= 0:
		return errors.New("auth: burst must be positive when throttling")
	}
	return nil
}

func (c Config) limit() rate.Limit {
	if c.PromptsPerMinute == 0 {
		return rate.Inf
	}
	return rate.Limit(c.PromptsPerMinute / 60)
}

// Result is a single-shot decision.
type Result struct {
	UserID    string
	Outcome   Outcome
	Decision  ensemble.Decision
	Certainty float64
	// Agreement is the share of models voting with the decision.
	Agreement float64
}

// StreamResult is one prompt of a session.
type StreamResult struct {
	SessionID string
	UserID    string
	Outcome   Outcome
	Decision  ensemble.Decision
	Certainty float64
	// Confidence is the session confidence after this prompt, already
	// reset to baseline when Locked.
	Confidence float64
	// Reached is the confidence before any lockout reset.
	Reached float64
	Locked  bool
	Prompts int
}

// Authenticator answers authentication requests. It is safe for concurrent
// use.
type Authenticator struct {
	cfg       Config
	loader    model.Loader
	extractor *features.Extractor
	cache     *bankCache
	sessions  *registry

	recorder store.DecisionRecorder
	logger   *logging.Logger
	audit    *logging.AuditLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures optional collaborators.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(a *Authenticator) { a.logger = l } }

// WithAudit sets the audit logger.
func WithAudit(l *logging.AuditLogger) Option { return func(a *Authenticator) { a.audit = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Authenticator) { a.metrics = m } }

// WithRecorder persists every decision. By default the loader is used when
// it implements store.DecisionRecorder.
func WithRecorder(r store.DecisionRecorder) Option { return func(a *Authenticator) { a.recorder = r } }

// WithClock overrides the time source for sessions and throttling.
func WithClock(now func() time.Time) Option { return func(a *Authenticator) { a.now = now } }

// New returns an Authenticator reading banks through loader.
func New(cfg Config, loader model.Loader, extractor *features.Extractor, opts ...Option) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil || extractor == nil {
		return nil, errors.New("auth: loader and extractor are required")
	}

	a := &Authenticator{
		cfg:       cfg,
		loader:    loader,
		extractor: extractor,
		sessions:  newRegistry(cfg.Trust, cfg.limit(), cfg.Burst),
		now:       time.Now,
	}
	if r, ok := loader.(store.DecisionRecorder); ok {
		a.recorder = r
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = logging.Default()
	}
	a.logger = a.logger.WithComponent("auth")
	a.cache = newBankCache(cfg.CacheSize, cfg.LoadTimeout, a.loadBank)
	return a, nil
}

func (a *Authenticator) loadBank(ctx context.Context, userID string) (*model.Bank, error) {
	start := time.Now()
	bank, err := model.LoadBank(ctx, a.loader, userID, a.cfg.Grid)
	a.metrics.ObserveBankLoad(time.Since(start))
	if err != nil {
		return nil, err
	}
	if err := bank.CheckExtractor(a.extractor); err != nil {
		return nil, err
	}
	return bank, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrModelNotFound):
		return "not_found"
	case errors.Is(err, store.ErrIntegrity):
		return "integrity"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, model.ErrSchemaMismatch), errors.Is(err, model.ErrDimensionMismatch):
		return "schema"
	default:
		return "error"
	}
}

// bank returns userID's bank or an ErrUnavailable error.
func (a *Authenticator) bank(ctx context.Context, userID string) (*model.Bank, error) {
	b, err := a.cache.get(ctx, userID)
	if err == nil {
		a.metrics.SetCachedBanks(a.cache.len())
		return b, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.metrics.IncLoadFailure(failureReason(err))
	a.logger.Warn("model bank unavailable", "user_id", userID, "error", err)
	if aerr := a.audit.LogModelUnavailable(ctx, userID, err); aerr != nil {
		a.logger.Warn("audit write failed", "error", aerr)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (a *Authenticator) vote(ctx context.Context, userID, text string) (ensemble.Result, error) {
	bank, err := a.bank(ctx, userID)
	if err != nil {
		return ensemble.Result{}, err
	}
	res, err := ensemble.Vote(bank, a.extractor.Extract(text))
	if err != nil {
		a.metrics.IncLoadFailure(failureReason(err))
		return ensemble.Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res, nil
}

// Authenticate decides whether text was written by userID.
func (a *Authenticator) Authenticate(ctx context.Context, userID, text string) (Result, error) {
	start := time.Now()
	res, err := a.vote(ctx, userID, text)
	if err != nil {
		return Result{UserID: userID, Outcome: Denied, Decision: ensemble.Impostor}, err
	}

	out := Result{
		UserID:    userID,
		Outcome:   outcomeOf(res.Decision),
		Decision:  res.Decision,
		Certainty: res.Certainty,
		Agreement: res.Agreement(),
	}
	a.metrics.ObserveAuthentication(string(out.Outcome), time.Since(start), out.Certainty)
	a.record(ctx, store.DecisionRecord{
		UserID:    userID,
		Outcome:   string(out.Outcome),
		Decision:  int(out.Decision),
		Certainty: out.Certainty,
	})
	if err := a.audit.LogAuthentication(ctx, userID, "", string(out.Outcome), out.Certainty, 0); err != nil {
		a.logger.Warn("audit write failed", "error", err)
	}
	a.logger.Debug("authenticated", "user_id", userID, "outcome", out.Outcome, "certainty", out.Certainty)
	return out, nil
}

// AuthenticateStream scores one prompt of sessionID. The session is created
// on first use and stays bound to userID. Infrastructure errors and
// throttling leave the session's trust state untouched.
func (a *Authenticator) AuthenticateStream(ctx context.Context, sessionID, userID, text string) (StreamResult, error) {
	if sessionID == "" {
		return StreamResult{}, errors.New("auth: empty session id")
	}
	start := time.Now()
	now := a.now()

	s, err := a.sessions.acquire(sessionID, userID, now)
	if err != nil {
		return StreamResult{}, err
	}
	defer a.sessions.release(s)
	a.metrics.SetActiveSessions(a.sessions.len())

	s.mu.Lock()
	defer s.mu.Unlock()

	out := StreamResult{SessionID: sessionID, UserID: userID, Outcome: Denied, Decision: ensemble.Impostor}
	if !s.limiter.AllowN(now, 1) {
		return out, ErrRateLimited
	}

	res, err := a.vote(ctx, userID, text)
	if err != nil {
		return out, err
	}

	step := s.machine.Observe(res.Decision, res.Certainty)
	out.Outcome = outcomeOf(res.Decision)
	out.Decision = res.Decision
	out.Certainty = res.Certainty
	out.Confidence = step.State.Confidence
	out.Reached = step.Reached
	out.Locked = step.Locked()
	out.Prompts = s.machine.Prompts()

	a.metrics.ObserveAuthentication(string(out.Outcome), time.Since(start), out.Certainty)
	a.record(ctx, store.DecisionRecord{
		UserID:     userID,
		SessionID:  sessionID,
		Outcome:    string(out.Outcome),
		Decision:   int(out.Decision),
		Certainty:  out.Certainty,
		Confidence: out.Reached,
		Locked:     out.Locked,
	})
	if err := a.audit.LogAuthentication(ctx, userID, sessionID, string(out.Outcome), out.Certainty, out.Reached); err != nil {
		a.logger.Warn("audit write failed", "error", err)
	}
	if out.Locked {
		a.metrics.IncLockout()
		if err := a.audit.LogLockout(ctx, userID, sessionID, out.Reached); err != nil {
			a.logger.Warn("audit write failed", "error", err)
		}
		a.logger.Info("session locked", "user_id", userID, "session_id", sessionID, "confidence", out.Reached)
	}
	return out, nil
}

func (a *Authenticator) record(ctx context.Context, r store.DecisionRecord) {
	if a.recorder == nil {
		return
	}
	r.CreatedAt = a.now()
	if err := a.recorder.RecordDecision(ctx, r); err != nil {
		a.logger.Warn("record decision failed", "user_id", r.UserID, "error", err)
	}
}

// SessionState returns the trust state of a live session.
func (a *Authenticator) SessionState(sessionID string) (trust.State, bool) {
	return a.sessions.snapshot(sessionID)
}

// EndSession forgets a session.
func (a *Authenticator) EndSession(sessionID string) bool {
	ok := a.sessions.remove(sessionID)
	a.metrics.SetActiveSessions(a.sessions.len())
	return ok
}

// Sweep drops sessions idle for longer than the configured timeout and
// reports how many were removed.
func (a *Authenticator) Sweep(now time.Time) int {
	n := a.sessions.sweep(now.Add(-a.cfg.SessionIdle))
	a.metrics.SetActiveSessions(a.sessions.len())
	return n
}

// Sessions returns the number of live sessions.
func (a *Authenticator) Sessions() int { return a.sessions.len() }

// Invalidate drops userID's cached bank, e.g. after retraining.
func (a *Authenticator) Invalidate(userID string) {
	a.cache.invalidate(userID)
	a.metrics.SetCachedBanks(a.cache.len())
}

// Preload loads userID's bank into the cache.
func (a *Authenticator) Preload(ctx context.Context, userID string) error {
	_, err := a.bank(ctx, userID)
	return err
}
