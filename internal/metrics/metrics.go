// Package metrics exposes workflow counters in Prometheus format.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry    *prometheus.Registry
	Transitions *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Assignments *prometheus.CounterVec
	Reports     prometheus.Counter
	Uploads     prometheus.Counter
	Requests    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry so tests and servers do
// not share global state.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lettertrack_transitions_total",
			Help: "Report transitions applied, by transition key and resulting status.",
		}, []string{"transition", "status"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lettertrack_transition_rejections_total",
			Help: "Transition attempts rejected, by reason.",
		}, []string{"reason"}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lettertrack_assignment_events_total",
			Help: "Task assignment lifecycle events.",
		}, []string{"event"}),
		Reports: f.NewCounter(prometheus.CounterOpts{
			Name: "lettertrack_reports_created_total",
			Help: "Reports created.",
		}),
		Uploads: f.NewCounter(prometheus.CounterOpts{
			Name: "lettertrack_uploads_total",
			Help: "Files stored in the blob store.",
		}),
		Requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lettertrack_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// The helpers below accept a nil receiver so callers never need to check.

func (m *Metrics) Transition(key, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(key, status).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Assignment(event string) {
	if m != nil {
		m.Assignments.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ReportCreated() {
	if m != nil {
		m.Reports.Inc()
	}
}

func (m *Metrics) Uploaded() {
	if m != nil {
		m.Uploads.Inc()
	}
}

func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
	}
}
