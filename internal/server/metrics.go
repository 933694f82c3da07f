package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "stickyboard"

// Metrics owns the service's prometheus collectors on a private registry.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	intentsTotal        *prometheus.CounterVec
	historyEntriesTotal *prometheus.CounterVec
	realtimeSubscribers prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		intentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "intents_total",
				Help:      "Board intents handled, by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		historyEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "history_entries_total",
				Help:      "History entries committed, by action",
			},
			[]string{"action"},
		),
		realtimeSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "realtime_subscribers",
				Help:      "Number of live realtime subscribers",
			},
		),
	}
	metrics.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.httpRequestsTotal,
		metrics.httpRequestDuration,
		metrics.intentsTotal,
		metrics.historyEntriesTotal,
		metrics.realtimeSubscribers,
	)
	return metrics
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveIntent counts a handled intent and the history entries it committed.
func (m *Metrics) ObserveIntent(intent string, outcome string, entries []notes.HistoryEntry) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intent, outcome).Inc()
	for _, entry := range entries {
		m.historyEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	}
}

// SetRealtimeSubscribers records the current subscriber count.
func (m *Metrics) SetRealtimeSubscribers(count int) {
	if m == nil {
		return
	}
	m.realtimeSubscribers.Set(float64(count))
}
