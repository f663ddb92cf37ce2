package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRunCountsByStatus(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveRun("bronze_hubeau", "success", 2*time.Second)
	m.ObserveRun("bronze_hubeau", "success", 3*time.Second)
	m.ObserveRun("bronze_hubeau", "failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("bronze_hubeau", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("bronze_hubeau", "failed")))
}

func TestObserveHarvestAccumulates(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveHarvest("hubeau", "niveaux_nappes/chroniques", 500, 120000)
	m.ObserveHarvest("hubeau", "niveaux_nappes/chroniques", 250, 60000)

	assert.Equal(t, 750.0, testutil.ToFloat64(m.RecordsHarvested.WithLabelValues("hubeau", "niveaux_nappes/chroniques")))
	assert.Equal(t, 180000.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("hubeau")))
}

func TestObserveFailureByClass(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveFailure("transient")
	m.ObserveFailure("transient")
	m.ObserveFailure("downstream_store")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("downstream_store")))
}

type staticReadiness struct{ ready bool }

func (s staticReadiness) IsReady() bool { return s.ready }

func TestAdminEndpoints(t *testing.T) {
	m := New()
	m.ObserveRun("silver_stations", "success", time.Second)

	server := NewAdminServer(0, m, staticReadiness{ready: false})

	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hydropipe_runs_total")
}
