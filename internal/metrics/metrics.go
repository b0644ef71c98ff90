package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pow"

// Collector owns the process registry: inbound HTTP metrics plus the
// pipeline observers for the upstream client, ingestion, rule engine and
// outbound queue.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	upstreamDuration *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	ingestedTotal    *prometheus.CounterVec
	ruleRunsTotal    *prometheus.CounterVec
	queueItemsTotal  *prometheus.CounterVec
	syncDuration     prometheus.Histogram
}

// New constructs a collector with its own registry.
func New() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of game-server API calls including limiter waits.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"endpoint"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Game-server API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		ingestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "records_total",
			Help:      "Newly stored activity records by type.",
		}, []string{"type"}),
		ruleRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "rule_runs_total",
			Help:      "Automation rule evaluations by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		queueItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_total",
			Help:      "Settled outbound queue items by kind and outcome.",
		}, []string{"kind", "outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Duration of full multi-tenant sync batches.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration,
		c.requestTotal,
		c.upstreamDuration,
		c.upstreamTotal,
		c.ingestedTotal,
		c.ruleRunsTotal,
		c.queueItemsTotal,
		c.syncDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request count and latency. Paths are labelled
// with the chi route pattern when available to keep cardinality bounded.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveUpstream records one game-server API call.
func (c *Collector) ObserveUpstream(endpoint, outcome string, duration time.Duration) {
	c.upstreamTotal.WithLabelValues(endpoint, outcome).Inc()
	c.upstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveIngested counts newly stored records.
func (c *Collector) ObserveIngested(recordType string, count int) {
	c.ingestedTotal.WithLabelValues(recordType).Add(float64(count))
}

// ObserveRuleRun counts a rule evaluation.
func (c *Collector) ObserveRuleRun(trigger, outcome string) {
	c.ruleRunsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObserveQueueItem counts a settled queue item.
func (c *Collector) ObserveQueueItem(kind, outcome string) {
	c.queueItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSyncBatch records the duration of a full sync batch.
func (c *Collector) ObserveSyncBatch(d time.Duration) {
	c.syncDuration.Observe(d.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
