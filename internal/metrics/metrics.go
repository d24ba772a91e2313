package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guardian/internal/event"
	"guardian/internal/pipeline"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	ticks           *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	scorerFailures  *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	eventConfidence *prometheus.GaugeVec
	eventDetected   *prometheus.GaugeVec
	tracks          *prometheus.GaugeVec
	deliveries      *prometheus.CounterVec
	alertsDropped   prometheus.Counter
	queueDepth      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_ticks_total",
			Help: "Ticks processed per camera, split by whether they were evaluated.",
		}, []string{"camera", "evaluated"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_tick_duration_seconds",
			Help:    "Histogram of evaluated tick durations.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"camera"}),
		scorerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_scorer_failures_total",
			Help: "Scorer errors and panics isolated by the engine.",
		}, []string{"camera", "scorer"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_total",
			Help: "Alerts emitted by the alert gate.",
		}, []string{"camera", "event", "severity"}),
		eventConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_event_confidence",
			Help: "Latest published confidence per camera and event.",
		}, []string{"camera", "event"}),
		eventDetected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_event_detected",
			Help: "1 while the event is published as detected.",
		}, []string{"camera", "event"}),
		tracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_tracks",
			Help: "Person tracks held per camera (state: active, stale).",
		}, []string{"camera", "state"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alert_deliveries_total",
			Help: "Alert deliveries per sink and result.",
		}, []string{"sink", "result"}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_alerts_dropped_total",
			Help: "Alerts dropped because the delivery queue was full.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_alert_queue_depth",
			Help: "Alerts waiting for delivery.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.ticks,
		m.tickDuration,
		m.scorerFailures,
		m.alerts,
		m.eventConfidence,
		m.eventDetected,
		m.tracks,
		m.deliveries,
		m.alertsDropped,
		m.queueDepth,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) TickProcessed(cameraID string, evaluated bool, d time.Duration) {
	m.ticks.WithLabelValues(cameraID, strconv.FormatBool(evaluated)).Inc()
	if evaluated {
		m.tickDuration.WithLabelValues(cameraID).Observe(d.Seconds())
	}
}

func (m *Metrics) ScorerFailed(cameraID, scorer string) {
	m.scorerFailures.WithLabelValues(cameraID, scorer).Inc()
}

func (m *Metrics) AlertEmitted(cameraID string, t event.Type, severity event.Severity) {
	m.alerts.WithLabelValues(cameraID, string(t), string(severity)).Inc()
}

func (m *Metrics) EventState(cameraID string, t event.Type, state pipeline.EventState) {
	m.eventConfidence.WithLabelValues(cameraID, string(t)).Set(state.Confidence)
	detected := 0.0
	if state.Detected() {
		detected = 1
	}
	m.eventDetected.WithLabelValues(cameraID, string(t)).Set(detected)
}

func (m *Metrics) TracksObserved(cameraID string, active, stale int) {
	m.tracks.WithLabelValues(cameraID, "active").Set(float64(active - stale))
	m.tracks.WithLabelValues(cameraID, "stale").Set(float64(stale))
}

// AlertDelivered counts one delivery attempt
func (m *Metrics) AlertDelivered(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "fail"
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) AlertDropped() {
	m.alertsDropped.Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ForgetCamera removes the per-camera series of a stopped camera
func (m *Metrics) ForgetCamera(cameraID string) {
	labels := prometheus.Labels{"camera": cameraID}
	m.ticks.DeletePartialMatch(labels)
	m.tickDuration.DeletePartialMatch(labels)
	m.scorerFailures.DeletePartialMatch(labels)
	m.alerts.DeletePartialMatch(labels)
	m.eventConfidence.DeletePartialMatch(labels)
	m.eventDetected.DeletePartialMatch(labels)
	m.tracks.DeletePartialMatch(labels)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations under route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

var _ pipeline.Observer = (*Metrics)(nil)
