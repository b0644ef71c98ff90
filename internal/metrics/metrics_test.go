package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics handler to return 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestCollectorRecordsHTTPMetrics(t *testing.T) {
	collector, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.InstrumentHandler)
	r.Get("/tenants/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tenants/abc", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rr.Code)
	}

	body := scrape(t, collector)
	if !strings.Contains(body, `pow_http_requests_total{method="GET",path="/tenants/{id}",status="202"} 1`) {
		t.Fatalf("requests_total metric not recorded with route pattern, body=%q", body)
	}
}

func TestCollectorPipelineObservers(t *testing.T) {
	collector, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	collector.ObserveUpstream("/server/joinlogs", "ok", 120*time.Millisecond)
	collector.ObserveUpstream("/server/joinlogs", "rate_limited", time.Second)
	collector.ObserveIngested("join", 3)
	collector.ObserveIngested("join", 2)
	collector.ObserveRuleRun("PLAYER_JOIN", "matched")
	collector.ObserveQueueItem("MESSAGE", "sent")
	collector.ObserveSyncBatch(2 * time.Second)

	body := scrape(t, collector)
	for _, want := range []string{
		`pow_upstream_requests_total{endpoint="/server/joinlogs",outcome="ok"} 1`,
		`pow_upstream_requests_total{endpoint="/server/joinlogs",outcome="rate_limited"} 1`,
		`pow_ingestion_records_total{type="join"} 5`,
		`pow_automation_rule_runs_total{outcome="matched",trigger="PLAYER_JOIN"} 1`,
		`pow_queue_items_total{kind="MESSAGE",outcome="sent"} 1`,
		`pow_sync_batch_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}
