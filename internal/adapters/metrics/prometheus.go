// Package metrics exposes pipeline and host observations
package metrics

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-chat/internal/core/ports"
)

var _ ports.Metrics = (*Prometheus)(nil)

// Prometheus bundles the collectors shared by the pipeline and HTTP server
type Prometheus struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	turnLatency *prometheus.HistogramVec
	claimed     prometheus.Counter
	batches     prometheus.Counter
	dropped     *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewPrometheus registers every collector on a fresh registry
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_turns_total",
				Help: "Logical customer turns by outcome.",
			},
			[]string{"outcome"},
		),
		turnLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_turn_duration_seconds",
				Help:    "Time from turn start to reply dispatch.",
				Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 30},
			},
			[]string{"outcome"},
		),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_pending_claimed_total",
			Help: "Pending messages claimed by sweeps.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_batches_total",
			Help: "Sender batches claimed by sweeps.",
		}),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_turns_dropped_total",
				Help: "Turns short-circuited by a gate.",
			},
			[]string{"reason"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_tool_calls_total",
				Help: "AI tool executions.",
			},
			[]string{"tool", "success"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_http_requests_total",
				Help: "Total count of HTTP requests received.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_http_request_duration_seconds",
				Help:    "Histogram of request durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_http_inflight_requests",
			Help: "Number of requests currently being handled.",
		}),
	}

	reg.MustRegister(
		m.turns, m.turnLatency, m.claimed, m.batches, m.dropped, m.toolCalls,
		m.requests, m.duration, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) ObserveTurn(outcome string, d time.Duration) {
	m.turns.WithLabelValues(outcome).Inc()
	m.turnLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Prometheus) AddClaimed(messages, batches int) {
	m.claimed.Add(float64(messages))
	m.batches.Add(float64(batches))
}

func (m *Prometheus) IncDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Prometheus) IncToolCall(tool string, success bool) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// Handler exposes /metrics for this registry
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps the handler with request counters and histograms
func (m *Prometheus) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		labels := []string{r.Method, sanitizePath(r.URL.Path), strconv.Itoa(rec.status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// sanitizePath collapses numeric ids to keep label cardinality bounded
func sanitizePath(p string) string {
	clean := path.Clean(p)
	if clean == "" || clean == "." {
		return "/"
	}
	segments := strings.Split(clean, "/")
	for i, s := range segments {
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// statusRecorder captures the final status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}
