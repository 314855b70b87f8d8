package sink

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

var metricLabels = []string{"session", "source", "method"}

// MetricsSink counts requests and notifications and measures how long
// requests take to be answered. Source is always the side that sent the
// request or notification.
type MetricsSink struct {
	registry *prometheus.Registry

	mu      sync.Mutex
	tracker *jsonrpc.Tracker
	session string

	requests      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetricsSink creates a sink with its own registry.
func NewMetricsSink() *MetricsSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &MetricsSink{
		registry: reg,
		tracker:  jsonrpc.NewTracker(),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lsp_request_count",
			Help: "Number of requests sent.",
		}, metricLabels),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lsp_notification_count",
			Help: "Number of notifications sent.",
		}, metricLabels),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lsp_request_duration_seconds",
			Help:    "Time between a request and its response.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, metricLabels),
	}
}

func (s *MetricsSink) Write(_ context.Context, e *Entry) error {
	m := e.Message
	msg := m.Message
	if msg == nil {
		return nil
	}

	s.mu.Lock()
	if m.Session != s.session {
		s.tracker.Reset()
		s.session = m.Session
	}
	c := s.tracker.CorrelateAt(m.Source, msg, m.Timestamp)
	s.mu.Unlock()

	switch msg.Type() {
	case api.MessageTypeRequest:
		s.requests.WithLabelValues(m.Session, string(m.Source), c.Method).Inc()
	case api.MessageTypeNotification:
		s.notifications.WithLabelValues(m.Session, string(m.Source), c.Method).Inc()
	default:
		if !c.Matched {
			return nil
		}
		elapsed := m.Timestamp.Sub(c.RequestedAt).Seconds()
		s.duration.WithLabelValues(m.Session, string(m.Source.Opposite()), c.Method).Observe(elapsed)
	}
	return nil
}

func (s *MetricsSink) Close() error { return nil }

// Registry returns the registry holding the sink's collectors.
func (s *MetricsSink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the collected metrics in the Prometheus text format.
func (s *MetricsSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
