package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"styleauth/internal/ensemble"
	"styleauth/internal/features"
	"styleauth/internal/logging"
	"styleauth/internal/metrics"
	"styleauth/internal/model"
	"styleauth/internal/novelty"
	"styleauth/internal/store"
	"styleauth/internal/trust"
)

const (
	genuineText  = "Honestly, I think this is fine. We ship it tomorrow."
	impostorText = "THE QUARTERLY FIGURES (2024) EXCEEDED EVERY PROJECTION BY 37 PERCENT!!!"
)

var testGrid = model.Grid{Nus: []float64{0.1, 0.5}, Gammas: []float64{1, 2}}

func newExtractor(v features.Version) *features.Extractor {
	return features.NewExtractor(features.MustLookup(v), features.WhitespaceAnalyzer{})
}

// centeredModel accepts exactly the features of center: its scaler maps
// center to the origin, where the only support vector sits.
func centeredModel(userID string, k model.Key, v features.Version, center features.Vector) *model.UserModel {
	width := len(center)
	scale := make([]float64, width)
	for i := range scale {
		scale[i] = 0.01
	}
	return &model.UserModel{
		UserID:        userID,
		Nu:            k.Nu,
		Gamma:         k.Gamma,
		SchemaVersion: v,
		Analyzer:      features.AnalyzerWhitespace,
		Scaler:        &novelty.Scaler{Mean: append([]float64(nil), center...), Scale: scale},
		SVM: &novelty.OneClassSVM{
			Nu:             k.Nu,
			Gamma:          k.Gamma,
			SupportVectors: [][]float64{make([]float64, width)},
			Coef:           []float64{1},
			Rho:            0.5,
		},
		MaxDecisionDistance: 0.5,
	}
}

type memLoader struct {
	mu      sync.Mutex
	models  map[string]map[model.Key]*model.UserModel
	loads   atomic.Int64
	block   chan struct{}
	records []store.DecisionRecord
}

func newMemLoader() *memLoader {
	return &memLoader{models: make(map[string]map[model.Key]*model.UserModel)}
}

func (l *memLoader) addUser(userID string, v features.Version, text string) {
	center := newExtractor(v).Extract(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models[userID] = make(map[model.Key]*model.UserModel)
	for _, k := range testGrid.Keys() {
		l.models[userID][k] = centeredModel(userID, k, v, center)
	}
}

func (l *memLoader) Load(ctx context.Context, userID string, k model.Key) (*model.UserModel, error) {
	l.loads.Add(1)
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.models[userID][k]
	if !ok {
		return nil, fmt.Errorf("bundle %q %s: %w", userID, k, model.ErrModelNotFound)
	}
	return m, nil
}

func (l *memLoader) RecordDecision(_ context.Context, r store.DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Grid = testGrid
	cfg.PromptsPerMinute = 0
	return cfg
}

func newAuth(t *testing.T, cfg Config, loader model.Loader, opts ...Option) *Authenticator {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	a, err := New(cfg, loader, newExtractor(features.V1), opts...)
	require.NoError(t, err)
	return a
}

func TestAuthenticate(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	m := metrics.New()
	a := newAuth(t, testConfig(), loader, WithMetrics(m))

	res, err := a.Authenticate(context.Background(), "alice", genuineText)
	require.NoError(t, err)
	assert.Equal(t, Granted, res.Outcome)
	assert.Equal(t, ensemble.Genuine, res.Decision)
	assert.Equal(t, 1.0, res.Certainty)
	assert.Equal(t, 1.0, res.Agreement)

	res, err = a.Authenticate(context.Background(), "alice", impostorText)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, ensemble.Impostor, res.Decision)
	assert.Greater(t, res.Certainty, 0.9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Authentications.WithLabelValues("GRANTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Authentications.WithLabelValues("DENIED")))

	require.Len(t, loader.records, 2)
	assert.Equal(t, "GRANTED", loader.records[0].Outcome)
	assert.Equal(t, 1, loader.records[0].Decision)
	assert.Empty(t, loader.records[0].SessionID)
	assert.Equal(t, "DENIED", loader.records[1].Outcome)
}

func TestAuthenticateFailsClosed(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	delete(loader.models["alice"], model.Key{Nu: 0.5, Gamma: 2})
	m := metrics.New()
	a := newAuth(t, testConfig(), loader, WithMetrics(m))

	res, err := a.Authenticate(context.Background(), "alice", genuineText)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, model.ErrModelNotFound)
	assert.Equal(t, Denied, res.Outcome)

	var be *model.BankError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.Key{Nu: 0.5, Gamma: 2}, be.Key)

	_, err = a.Authenticate(context.Background(), "nobody", genuineText)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModelLoadFailures.WithLabelValues("not_found")))
	assert.Empty(t, loader.records, "unavailable is not a decision")
}

func TestSchemaMismatchIsUnavailable(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V2, genuineText)
	a := newAuth(t, testConfig(), loader)

	_, err := a.Authenticate(context.Background(), "alice", genuineText)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, model.ErrSchemaMismatch)
}

func TestAnalyzerMismatchIsUnavailable(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	m := metrics.New()
	a, err := New(testConfig(), loader, features.NewExtractor(features.MustLookup(features.V1), nil),
		WithLogger(logging.Discard()), WithMetrics(m))
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), "alice", genuineText)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, model.ErrAnalyzerMismatch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoadFailures.WithLabelValues("schema")))
	assert.Empty(t, loader.records)
}

func TestAuthenticateStreamLockout(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	m := metrics.New()
	a := newAuth(t, testConfig(), loader, WithMetrics(m))
	ctx := context.Background()
	sid := NewSessionID()

	r, err := a.AuthenticateStream(ctx, sid, "alice", genuineText)
	require.NoError(t, err)
	assert.Equal(t, Granted, r.Outcome)
	assert.InDelta(t, 0.684, r.Confidence, 1e-9)
	assert.False(t, r.Locked)
	assert.Equal(t, 1, r.Prompts)

	r, err = a.AuthenticateStream(ctx, sid, "alice", impostorText)
	require.NoError(t, err)
	assert.Equal(t, Denied, r.Outcome)
	assert.False(t, r.Locked)
	assert.InDelta(t, 0.684-0.168, r.Confidence, 1e-9)

	r, err = a.AuthenticateStream(ctx, sid, "alice", impostorText)
	require.NoError(t, err)
	assert.True(t, r.Locked)
	assert.InDelta(t, 0.684-0.168-0.168-0.05, r.Reached, 1e-9)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
	assert.Equal(t, 3, r.Prompts)

	state, ok := a.SessionState(sid)
	require.True(t, ok)
	assert.Zero(t, state.ConsecutiveImpostor)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lockouts))
	require.Len(t, loader.records, 3)
	assert.True(t, loader.records[2].Locked)
	assert.Equal(t, sid, loader.records[2].SessionID)
}

func TestSessionsAreIndependent(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	a := newAuth(t, testConfig(), loader)
	ctx := context.Background()

	_, err := a.AuthenticateStream(ctx, "s1", "alice", impostorText)
	require.NoError(t, err)
	r, err := a.AuthenticateStream(ctx, "s2", "alice", genuineText)
	require.NoError(t, err)
	assert.InDelta(t, 0.684, r.Confidence, 1e-9)
	assert.Equal(t, 2, a.Sessions())

	_, err = a.AuthenticateStream(ctx, "s1", "bob", genuineText)
	assert.ErrorIs(t, err, ErrSessionUserMismatch)

	_, err = a.AuthenticateStream(ctx, "", "alice", genuineText)
	assert.Error(t, err)

	assert.True(t, a.EndSession("s1"))
	assert.False(t, a.EndSession("s1"))
	assert.Equal(t, 1, a.Sessions())
}

func TestUnavailableLeavesTrustUntouched(t *testing.T) {
	loader := newMemLoader()
	a := newAuth(t, testConfig(), loader)

	_, err := a.AuthenticateStream(context.Background(), "s1", "ghost", genuineText)
	require.ErrorIs(t, err, ErrUnavailable)

	state, ok := a.SessionState("s1")
	require.True(t, ok)
	assert.Equal(t, 0.6, state.Confidence)
	assert.Zero(t, state.ConsecutiveImpostor)
}

func TestRateLimit(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	cfg := testConfig()
	cfg.PromptsPerMinute = 1
	cfg.Burst = 2
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newAuth(t, cfg, loader, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.AuthenticateStream(ctx, "s1", "alice", genuineText)
		require.NoError(t, err)
	}
	before, _ := a.SessionState("s1")

	_, err := a.AuthenticateStream(ctx, "s1", "alice", genuineText)
	assert.ErrorIs(t, err, ErrRateLimited)
	after, _ := a.SessionState("s1")
	assert.Equal(t, before, after)

	now = now.Add(time.Minute)
	_, err = a.AuthenticateStream(ctx, "s1", "alice", genuineText)
	assert.NoError(t, err)
}

func TestBankLoadedOnceAndShared(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	loader.block = make(chan struct{})
	a := newAuth(t, testConfig(), loader)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Authenticate(context.Background(), "alice", genuineText)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.block)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(testGrid.Size()), loader.loads.Load())

	a.Invalidate("alice")
	_, err := a.Authenticate(context.Background(), "alice", genuineText)
	require.NoError(t, err)
	assert.Equal(t, int64(2*testGrid.Size()), loader.loads.Load())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	loader.addUser("bob", features.V1, impostorText)
	cfg := testConfig()
	cfg.CacheSize = 1
	a := newAuth(t, cfg, loader)
	ctx := context.Background()

	for _, u := range []string{"alice", "alice", "bob", "alice"} {
		_, err := a.Authenticate(ctx, u, genuineText)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3*testGrid.Size()), loader.loads.Load())
}

func TestLoadTimeout(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	loader.block = make(chan struct{})
	defer close(loader.block)
	cfg := testConfig()
	cfg.LoadTimeout = 20 * time.Millisecond
	m := metrics.New()
	a := newAuth(t, cfg, loader, WithMetrics(m))

	_, err := a.Authenticate(context.Background(), "alice", genuineText)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoadFailures.WithLabelValues("timeout")))
}

func TestCallerCancellation(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	loader.block = make(chan struct{})
	defer close(loader.block)
	a := newAuth(t, testConfig(), loader)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Authenticate(ctx, "alice", genuineText)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSweep(t *testing.T) {
	loader := newMemLoader()
	loader.addUser("alice", features.V1, genuineText)
	cfg := testConfig()
	cfg.SessionIdle = 10 * time.Minute
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newAuth(t, cfg, loader, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := a.AuthenticateStream(ctx, "old", "alice", genuineText)
	require.NoError(t, err)
	now = now.Add(8 * time.Minute)
	_, err = a.AuthenticateStream(ctx, "new", "alice", genuineText)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Sweep(now.Add(5*time.Minute)))
	_, ok := a.SessionState("old")
	assert.False(t, ok)
	_, ok = a.SessionState("new")
	assert.True(t, ok)
}

func TestSweepSkipsSessionsInFlight(t *testing.T) {
	r := newRegistry(trust.DefaultParams(), rate.Inf, 1)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := r.acquire("s1", "alice", t0)
	require.NoError(t, err)
	assert.Zero(t, r.sweep(t0.Add(time.Hour)), "acquired but not yet locked")
	r.release(s)

	s, err = r.acquire("s1", "alice", t0.Add(20*time.Minute))
	require.NoError(t, err)
	r.release(s)
	assert.Zero(t, r.sweep(t0.Add(10*time.Minute)), "acquire refreshes lastSeen")

	assert.Equal(t, 1, r.sweep(t0.Add(time.Hour)))
	assert.Zero(t, r.len())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unthrottled", func(c *Config) { c.PromptsPerMinute = 0; c.Burst = 0 }, true},
		{"zero timeout", func(c *Config) { c.LoadTimeout = 0 }, false},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }, false},
		{"zero idle", func(c *Config) { c.SessionIdle = 0 }, false},
		{"negative rate", func(c *Config) { c.PromptsPerMinute = -1 }, false},
		{"zero burst", func(c *Config) { c.Burst = 0 }, false},
		{"bad grid", func(c *Config) { c.Grid = model.Grid{} }, false},
		{"bad trust", func(c *Config) { c.Trust.BaseDecrease = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}

	_, err := New(DefaultConfig(), nil, newExtractor(features.V1))
	assert.Error(t, err)
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
