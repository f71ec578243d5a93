// Package metrics provides Prometheus metrics for styleauth.
//
// Features:
//   - Counters for authentications, lockouts, load failures, trained models
//   - Gauges for active sessions and cached model banks
//   - Histograms for authentication latency, bank load latency, certainty
//   - Optional HTTP endpoint for scraping
//
// All recording methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "styleauth"

// Metrics holds a private registry and every styleauth metric.
type Metrics struct {
	registry *prometheus.Registry

	Authentications   *prometheus.CounterVec
	Lockouts          prometheus.Counter
	ModelLoadFailures *prometheus.CounterVec
	TrainedModels     prometheus.Counter

	AuthDuration     prometheus.Histogram
	BankLoadDuration prometheus.Histogram
	Certainty        prometheus.Histogram

	ActiveSessions prometheus.Gauge
	CachedBanks    prometheus.Gauge
}

// New creates a registry with Go runtime and process collectors and
// registers all styleauth metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.Authentications = m.newCounterVec(prometheus.CounterOpts{
		Name: "authentications_total",
		Help: "Authentication decisions by outcome",
	}, []string{"outcome"})
	m.Lockouts = m.newCounter(prometheus.CounterOpts{
		Name: "lockouts_total",
		Help: "Sessions locked after confidence fell below the floor",
	})
	m.ModelLoadFailures = m.newCounterVec(prometheus.CounterOpts{
		Name: "model_load_failures_total",
		Help: "Model bank loads that failed, by reason",
	}, []string{"reason"})
	m.TrainedModels = m.newCounter(prometheus.CounterOpts{
		Name: "trained_models_total",
		Help: "One-class models trained and saved",
	})

	m.AuthDuration = m.newHistogram(prometheus.HistogramOpts{
		Name:    "authentication_duration_seconds",
		Help:    "Time to score one prompt",
		Buckets: prometheus.DefBuckets,
	})
	m.BankLoadDuration = m.newHistogram(prometheus.HistogramOpts{
		Name:    "bank_load_duration_seconds",
		Help:    "Time to load a user's model bank from the store",
		Buckets: prometheus.DefBuckets,
	})
	m.Certainty = m.newHistogram(prometheus.HistogramOpts{
		Name:    "certainty",
		Help:    "Ensemble certainty of each decision",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	m.ActiveSessions = m.newGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Streaming sessions currently tracked",
	})
	m.CachedBanks = m.newGauge(prometheus.GaugeOpts{
		Name: "cached_banks",
		Help: "Model banks held in the cache",
	})
	return m
}

func (m *Metrics) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = namespace
	c := prometheus.NewCounter(opts)
	m.registry.MustRegister(c)
	return c
}

func (m *Metrics) newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = namespace
	cv := prometheus.NewCounterVec(opts, labels)
	m.registry.MustRegister(cv)
	return cv
}

func (m *Metrics) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = namespace
	h := prometheus.NewHistogram(opts)
	m.registry.MustRegister(h)
	return h
}

func (m *Metrics) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = namespace
	g := prometheus.NewGauge(opts)
	m.registry.MustRegister(g)
	return g
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAuthentication records one scored prompt.
func (m *Metrics) ObserveAuthentication(outcome string, d time.Duration, certainty float64) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(outcome).Inc()
	m.AuthDuration.Observe(d.Seconds())
	m.Certainty.Observe(certainty)
}

// IncLockout records a session lockout.
func (m *Metrics) IncLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// IncLoadFailure records a failed bank load.
func (m *Metrics) IncLoadFailure(reason string) {
	if m == nil {
		return
	}
	m.ModelLoadFailures.WithLabelValues(reason).Inc()
}

// AddTrainedModels records n newly trained models.
func (m *Metrics) AddTrainedModels(n int) {
	if m == nil {
		return
	}
	m.TrainedModels.Add(float64(n))
}

// ObserveBankLoad records the latency of a store read.
func (m *Metrics) ObserveBankLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.BankLoadDuration.Observe(d.Seconds())
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SetCachedBanks sets the cache gauge.
func (m *Metrics) SetCachedBanks(n int) {
	if m == nil {
		return
	}
	m.CachedBanks.Set(float64(n))
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Route is an extra handler mounted next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Serve exposes /metrics and any extra routes on addr in the background.
// The returned function shuts the server down.
func (m *Metrics) Serve(addr string, routes ...Route) (func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv.Shutdown, nil
}
