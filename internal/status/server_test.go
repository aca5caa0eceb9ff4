package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/stability"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
	"github.com/danmuck/tipctl/internal/tipprep"
)

type stubController struct{ snap tipprep.Snapshot }

func (s stubController) Snapshot() tipprep.Snapshot { return s.snap }

type stubMonitor struct {
	sample monitor.Sample
	ok     bool
}

func (s stubMonitor) SessionID() string              { return "session-1" }
func (s stubMonitor) Latest() (monitor.Sample, bool) { return s.sample, s.ok }
func (s stubMonitor) Stats() monitor.Stats           { return monitor.Stats{Published: 3} }

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func newServer(t *testing.T, src Sources) *Server {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	return New("status-test", "127.0.0.1:0", src)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, Sources{})
	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tipctl_http_requests_total")
}

func TestMissingSourcesAre404(t *testing.T) {
	s := newServer(t, Sources{})
	for _, path := range []string{"/controller", "/monitor/latest", "/signals", "/signals/bias"} {
		code, _ := get(t, s, path)
		assert.Equal(t, http.StatusNotFound, code, path)
	}
}

func TestControllerSnapshot(t *testing.T) {
	s := newServer(t, Sources{Controller: stubController{snap: tipprep.Snapshot{
		State:       tipprep.StateFailed,
		Reason:      tipprep.ReasonLimitExceeded,
		Cycle:       3,
		Pulses:      3,
		LastVerdict: stability.Verdict{Drift: 0.2},
		Elapsed:     time.Minute,
	}}})
	code, body := get(t, s, "/controller")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failed", body["state"])
	assert.Equal(t, true, body["terminal"])
	assert.Equal(t, "limit_exceeded", body["reason"])
	assert.Equal(t, float64(3), body["pulses"])
	assert.Equal(t, "1m0s", body["elapsed"])
}

func TestMonitorLatest(t *testing.T) {
	s := newServer(t, Sources{Monitor: stubMonitor{}})
	code, body := get(t, s, "/monitor/latest")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "session-1", body["session"])

	s = newServer(t, Sources{Monitor: stubMonitor{ok: true, sample: monitor.Sample{Seq: 9, Values: []float64{1.5}}}})
	code, body = get(t, s, "/monitor/latest")
	require.Equal(t, http.StatusOK, code)
	sample := body["sample"].(map[string]any)
	assert.Equal(t, float64(9), sample["seq"])
}

func TestSignals(t *testing.T) {
	reg, err := signals.NewRegistry([]string{"Current (A)", "Z (m)", "Bias (V)"}, signals.WithStandardStreamMap())
	require.NoError(t, err)
	s := newServer(t, Sources{Registry: reg})

	code, body := get(t, s, "/signals")
	require.Equal(t, http.StatusOK, code)
	list := body["signals"].([]any)
	require.Len(t, list, 3)
	first := list[0].(map[string]any)
	assert.Equal(t, "Current (A)", first["name"])
	assert.Equal(t, float64(0), first["stream_channel"])

	code, body = get(t, s, "/signals/BIAS")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["index"])

	code, _ = get(t, s, "/signals/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServeStopsWithContext(t *testing.T) {
	s := newServer(t, Sources{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestTokenGuardsAllButHealth(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := New("status-test", "127.0.0.1:0", Sources{}, WithToken("t0k"), WithCORS([]string{"http://localhost:3000/"}))

	code, _ := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, s, "/controller")
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/controller", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
