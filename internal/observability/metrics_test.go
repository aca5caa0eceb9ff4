package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("tipctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordInstrumentCall("Bias.Set", "ok", 3*time.Millisecond)
	RecordStreamFrame()
	RecordStreamGap()
	RecordStreamEviction()
	RecordAction("set_bias", true)
	RecordControllerCycle()
	RecordControllerPulse("+")
	RecordControllerOutcome("failed", "limit_exceeded")
	RecordMonitorSample()
	RecordMonitorDrop("drop_oldest")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `tipctl_instrument_calls_total{command="Bias.Set",outcome="ok"}`) {
		t.Fatalf("instrument call metric missing from exposition")
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf strings.Builder
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetrics("test"))
	r.GET("/signals/:name", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals/bias", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status got=%d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"path":"/signals/:name"`) {
		t.Fatalf("request log missing route: %s", buf.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status got=%d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"path":"unmatched"`) {
		t.Fatalf("unmatched route not collapsed: %s", buf.String())
	}
}
