package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	registry = newRegistry()
}

func registerCritical(healthy bool) {
	for _, name := range criticalComponents {
		RegisterComponent(name, healthy, "")
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent("cache", true, "opened")

	comp, ok := registry.components["cache"]
	require.True(t, ok)
	assert.True(t, comp.healthy)
	assert.Equal(t, "opened", comp.message)

	UpdateComponent("cache", false, "disk full")
	assert.False(t, registry.components["cache"].healthy)
}

func TestGetHealth(t *testing.T) {
	resetHealth(t)
	SetVersion("1.0.0")

	RegisterComponent("cache", true, "")
	SetInstanceHealth("home", true, "")

	health := GetHealth()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Len(t, health.Components, 1)
	assert.Len(t, health.Instances, 1)
	assert.Equal(t, "1.0.0", health.Version)

	SetInstanceHealth("home", false, "process exited")
	health = GetHealth()
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, "unhealthy: process exited", health.Instances["home"])
	assert.Equal(t, "instances failing: home", health.Message)

	RegisterComponent("cache", false, "disk full")
	health = GetHealth()
	assert.Equal(t, StatusFailing, health.Status)
	assert.Equal(t, "cache: disk full", health.Message)

	RemoveInstance("home")
	RegisterComponent("cache", true, "")
	health = GetHealth()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Empty(t, health.Instances)
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name   string
		setup  func()
		status string
	}{
		{
			name:   "all critical components ready",
			setup:  func() { registerCritical(true) },
			status: StatusReady,
		},
		{
			name:   "nothing registered",
			setup:  func() {},
			status: StatusNotReady,
		},
		{
			name: "reconciler not run yet",
			setup: func() {
				registerCritical(true)
				RegisterComponent("reconciler", false, "first pass pending")
			},
			status: StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			tt.setup()

			readiness := GetReadiness()
			assert.Equal(t, tt.status, readiness.Status)
			if tt.status != StatusReady {
				assert.NotEmpty(t, readiness.Message)
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	resetHealth(t)
	registerCritical(true)

	mux := NewMux()

	for _, path := range []string{"/health", "/ready", "/live"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
	}

	SetInstanceHealth("home", false, "process exited")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "degraded still answers 200")

	RegisterComponent("spec", false, "parse error")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, StatusFailing, health.Status)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var live map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&live))
	assert.Equal(t, "alive", live["status"])
	assert.NotEmpty(t, live["uptime"])
}

func TestMetricsEndpoint(t *testing.T) {
	ReconciliationCyclesTotal.Inc()

	w := httptest.NewRecorder()
	NewMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "proxyworld_reconciliation_cycles_total")
}
