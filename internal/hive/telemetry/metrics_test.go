package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := Registry()
	EvaluationsTotal.Reset()
	EvaluationsTotal.WithLabelValues("granted").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hive_evaluations_total") {
		t.Fatalf("expected hive_evaluations_total in output, got:\n%s", rec.Body.String())
	}
}
