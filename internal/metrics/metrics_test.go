package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/event"
	"guardian/internal/pipeline"
)

func TestObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TickProcessed("cam-1", true, 3*time.Millisecond)
	m.TickProcessed("cam-1", false, 0)
	m.TickProcessed("cam-1", true, time.Millisecond)
	m.ScorerFailed("cam-1", "pose")
	m.AlertEmitted("cam-1", event.Fire, event.SeverityHigh)
	m.EventState("cam-1", event.Fire, pipeline.EventState{Confidence: 0.62, Status: event.StatusDetected})
	m.TracksObserved("cam-1", 5, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("cam-1", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("cam-1", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scorerFailures.WithLabelValues("cam-1", "pose")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("cam-1", "fire", "high")))
	assert.Equal(t, 0.62, testutil.ToFloat64(m.eventConfidence.WithLabelValues("cam-1", "fire")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventDetected.WithLabelValues("cam-1", "fire")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tracks.WithLabelValues("cam-1", "active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tracks.WithLabelValues("cam-1", "stale")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tickDuration))

	m.ForgetCamera("cam-1")
	assert.Zero(t, testutil.CollectAndCount(m.ticks))
	assert.Zero(t, testutil.CollectAndCount(m.tracks))
}

func TestDeliveryObserver(t *testing.T) {
	m := NewMetrics(nil)

	m.AlertDelivered("kafka", nil)
	m.AlertDelivered("kafka", errors.New("broker down"))
	m.AlertDelivered("kafka", nil)
	m.AlertDropped()
	m.QueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("kafka", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("kafka", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsDropped))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
}

func TestHandlerAndWrap(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	wrapped := m.WrapHandler("ticks", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/ticks", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("ticks", "202")))

	m.AlertDropped()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "guardian_alerts_dropped_total 1")
	assert.Contains(t, string(body), `guardian_http_requests_total{route="ticks",status="202"} 1`)
}
