package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveAuthentication("GRANTED", 3*time.Millisecond, 0.8)
	m.ObserveAuthentication("GRANTED", 2*time.Millisecond, 0.6)
	m.ObserveAuthentication("DENIED", time.Millisecond, 0.2)
	m.IncLockout()
	m.IncLoadFailure("not_found")
	m.AddTrainedModels(18)
	m.ObserveBankLoad(10 * time.Millisecond)
	m.SetActiveSessions(4)
	m.SetCachedBanks(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Authentications.WithLabelValues("GRANTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Authentications.WithLabelValues("DENIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lockouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoadFailures.WithLabelValues("not_found")))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.TrainedModels))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CachedBanks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Certainty))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAuthentication("GRANTED", time.Millisecond, 1)
		m.IncLockout()
		m.IncLoadFailure("x")
		m.AddTrainedModels(1)
		m.ObserveBankLoad(time.Millisecond)
		m.SetActiveSessions(1)
		m.SetCachedBanks(1)
	})
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	m := New()
	m.IncLockout()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "styleauth_lockouts_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestServe(t *testing.T) {
	m := New()
	shutdown, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestServeScrape(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "styleauth_trained_models_total"))
}
