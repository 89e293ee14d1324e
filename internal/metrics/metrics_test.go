package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("send_to_coordinator", "pending_coordinator_review")
	m.Transition("send_to_coordinator", "pending_coordinator_review")
	m.Rejected("forbidden")
	m.Assignment("created")
	m.ReportCreated()
	m.Uploaded()
	m.ObserveRequest("GET", "/v1/reports", 200, 20*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("send_to_coordinator", "pending_coordinator_review")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("forbidden")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Assignments.WithLabelValues("created")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reports))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Uploads))
	require.Equal(t, 1, testutil.CollectAndCount(m.Requests, "lettertrack_http_request_duration_seconds"))
}

func TestNilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Transition("a", "b")
		m.Rejected("x")
		m.Assignment("created")
		m.ReportCreated()
		m.Uploaded()
		m.ObserveRequest("GET", "/", 200, time.Second)
	})
}
