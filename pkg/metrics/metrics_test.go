package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGateMetricsExistAndIncrement(t *testing.T) {
	lbl := "test-bucket"

	GateDecisions.WithLabelValues("pass", lbl).Inc()
	if v := testutil.ToFloat64(GateDecisions.WithLabelValues("pass", lbl)); v < 1 {
		t.Fatalf("expected GateDecisions >= 1, got %v", v)
	}

	RateLimitDenied.WithLabelValues(lbl).Add(2)
	if v := testutil.ToFloat64(RateLimitDenied.WithLabelValues(lbl)); v < 2 {
		t.Fatalf("expected RateLimitDenied >= 2, got %v", v)
	}

	PortalLogins.WithLabelValues("succeeded").Inc()
	if v := testutil.ToFloat64(PortalLogins.WithLabelValues("succeeded")); v < 1 {
		t.Fatalf("expected PortalLogins >= 1, got %v", v)
	}
}

func TestCSRFFlaggedLabelCardinality(t *testing.T) {
	CSRFFlagged.Reset()
	defer CSRFFlagged.Reset()
	labels := []string{"POST", "false"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("CSRFFlagged panicked with labels %v: %v", labels, r)
		}
	}()

	CSRFFlagged.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(CSRFFlagged.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	AdminTokenValidationFailures.Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "orders_admin_token_validation_failures_total") {
		t.Fatalf("expected admin token validation counter in scrape output")
	}
}
