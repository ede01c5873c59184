package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeReady(t *testing.T, resp *http.Response) ReadyResponse {
	t.Helper()
	var body ReadyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthzHandler(t *testing.T) {
	server := NewServer(logger.NewTestLogger(), "8080", "test-mirror")

	w := httptest.NewRecorder()
	server.healthzHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestReadyzHandler_NotReady(t *testing.T) {
	server := NewServer(logger.NewTestLogger(), "8080", "test-mirror")
	server.SetConfigLoaded()

	w := httptest.NewRecorder()
	server.readyzHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeReady(t, resp)
	assert.Equal(t, "not ready", body.Message)
	assert.Equal(t, CheckOK, body.Checks[CheckConfig])
	assert.Equal(t, CheckError, body.Checks[CheckWatch])
	assert.Equal(t, []string{CheckWatch}, body.Failing)
}

func TestReadyzHandler_Ready(t *testing.T) {
	server := NewServer(logger.NewTestLogger(), "8080", "test-mirror")
	server.SetConfigLoaded()
	server.SetWatchReady(true)

	w := httptest.NewRecorder()
	server.readyzHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeReady(t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Failing)
}

func TestReadyzHandler_ShuttingDown(t *testing.T) {
	server := NewServer(logger.NewTestLogger(), "8080", "test-mirror")
	server.SetConfigLoaded()
	server.SetWatchReady(true)
	server.SetShuttingDown(true)

	w := httptest.NewRecorder()
	server.readyzHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	resp := w.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "server is shutting down", decodeReady(t, resp).Message)
	assert.True(t, server.IsShuttingDown())
	assert.False(t, server.IsReady())
}

func TestIsReadyTransitions(t *testing.T) {
	server := NewServer(logger.NewTestLogger(), "8080", "test-mirror")
	assert.False(t, server.IsReady())

	server.SetConfigLoaded()
	assert.False(t, server.IsReady())

	server.SetWatchReady(true)
	assert.True(t, server.IsReady())

	// a degraded feed keeps serving stale data but reports not ready
	server.SetWatchReady(false)
	assert.False(t, server.IsReady())

	server.SetCheck("extra", CheckOK)
	server.SetWatchReady(true)
	assert.True(t, server.IsReady())
}

func TestMetricsServerExposesMirrorMetrics(t *testing.T) {
	ms := NewMetricsServer(logger.NewTestLogger(), "9090", MetricsConfig{
		Component: "greenhouse-mirror",
		Version:   "1.2.3",
		Commit:    "abc",
	})
	ms.Mirror().ObserveSize("clusters", 4)
	ms.Mirror().ObserveEvents("clusters", "Added", 4)
	ms.Mirror().ObserveWatchError("clusters")
	ms.Mirror().ObserveWrite("Cluster", "create", false)

	w := httptest.NewRecorder()
	ms.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	raw, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	out := string(raw)

	for _, want := range []string{
		`greenhouse_mirror_build_info{commit="abc",component="greenhouse-mirror",version="1.2.3"} 1`,
		`greenhouse_mirror_collection_size{watch="clusters"} 4`,
		`greenhouse_mirror_events_applied_total{type="Added",watch="clusters"} 4`,
		`greenhouse_mirror_watch_errors_total{watch="clusters"} 1`,
		`greenhouse_mirror_writes_total{kind="Cluster",ok="false",operation="create"} 1`,
	} {
		assert.True(t, strings.Contains(out, want), "missing %q", want)
	}
}

func TestNewMirrorMetricsIsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMirrorMetrics(prometheus.NewRegistry())
		NewMirrorMetrics(prometheus.NewRegistry())
	})
}
