package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRecordDecision(t *testing.T) {
	m := NewMetrics()
	m.RecordDecision("DENY_OVERRIDE", "DENY", 2*time.Millisecond)
	m.RecordDecision("DENY_OVERRIDE", "DENY", time.Millisecond)
	m.RecordDecision("ALLOW_UNION", "ALLOW", time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `meridian_authz_decisions_total{decision="DENY",strategy="DENY_OVERRIDE"} 2`) {
		t.Fatalf("deny counter missing:\n%s", body)
	}
	if !strings.Contains(body, `meridian_authz_decisions_total{decision="ALLOW",strategy="ALLOW_UNION"} 1`) {
		t.Fatalf("allow counter missing:\n%s", body)
	}
}

func TestRecordCacheEvent(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheEvent("hit")
	m.RecordCacheEvent("miss")
	m.RecordCacheEvent("hit")

	body := scrape(t, m)
	if !strings.Contains(body, `meridian_authz_cache_events_total{event="hit"} 2`) {
		t.Fatalf("hit counter missing:\n%s", body)
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/authorize", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("middleware altered the status: %d", rec.Code)
	}

	body := scrape(t, m)
	if !strings.Contains(body, `meridian_authz_http_requests_total{code="418",route="unknown"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("x", "y", 0)
	m.RecordCacheEvent("hit")
	if m.Middleware(nil) != nil {
		t.Fatal("nil metrics middleware should be a passthrough")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil handler should 503, got %d", rec.Code)
	}
}
