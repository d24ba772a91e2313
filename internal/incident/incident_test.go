package incident

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/database"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fireAlert() *pipeline.AlertEvent {
	return &pipeline.AlertEvent{
		ID:               "alert-1",
		CameraID:         "cam-1",
		CameraName:       "Main Entrance",
		Zone:             "zone_a",
		Location:         "Building A",
		EventType:        event.Fire,
		Category:         event.CategoryFire,
		Severity:         event.SeverityHigh,
		Confidence:       0.75,
		RequiresApproval: true,
		Description:      "AI Detection: Fire detected by Main Entrance at Building A with 75.0% confidence.",
		Timestamp:        at,
		BoundingBoxes:    []pipeline.BBox{{X1: 10, Y1: 20, X2: 110, Y2: 220}},
	}
}

func TestFromAlert(t *testing.T) {
	got := FromAlert(fireAlert())
	want := &Incident{
		Type:                  "fire",
		Zone:                  "zone_a",
		Location:              "Building A",
		Severity:              "high",
		Confidence:            0.75,
		Description:           fireAlert().Description,
		VideoSnapshot:         "camera_cam-1_1772366400",
		BoundingBoxes:         []BoundingBox{{X: 10, Y: 20, Width: 100, Height: 200, Label: "fire", Confidence: 0.75}},
		HumanApprovalRequired: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromAlert mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPSink(t *testing.T) {
	var received map[string]interface{}
	status := http.StatusCreated
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/monitoring/incidents", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(status)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL + "/api/")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Deliver(context.Background(), fireAlert()))
	assert.Equal(t, "fire", received["type"])
	assert.Equal(t, true, received["humanApprovalRequired"])
	assert.Equal(t, "camera_cam-1_1772366400", received["videoSnapshot"])

	status = http.StatusOK
	err = sink.Deliver(context.Background(), fireAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 200: rate limited")

	_, err = NewHTTPSink("  ")
	assert.Error(t, err)
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := newKafkaSink("guardian.alerts", w)

	require.NoError(t, sink.Deliver(context.Background(), fireAlert()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "cam-1/fire", string(w.msgs[0].Key))

	var decoded pipeline.AlertEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "alert-1", decoded.ID)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, sink.Deliver(context.Background(), fireAlert()), "guardian.alerts")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)

	_, err := NewKafkaSink(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, " ")
	assert.Error(t, err)
}

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakePublisher struct {
	topics       []string
	qos          []byte
	err          error
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.qos = append(p.qos, qos)
	return doneToken{err: p.err}
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink("guardian/alerts/", pub)

	require.NoError(t, sink.Deliver(context.Background(), fireAlert()))
	assert.Equal(t, []string{"guardian/alerts/cam-1/fire"}, pub.topics)
	assert.Equal(t, []byte{1}, pub.qos)

	pub.err = errors.New("not connected")
	assert.Error(t, sink.Deliver(context.Background(), fireAlert()))

	assert.Equal(t, "cam-1/fire", newMQTTSink("", pub).Topic(fireAlert()))

	require.NoError(t, sink.Close())
	assert.True(t, pub.disconnected)
}

func TestDatabaseSink(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	sink := NewDatabaseSink(db)
	require.NoError(t, sink.Deliver(context.Background(), fireAlert()))

	rec, err := db.GetAlert("alert-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fire", rec.EventType)
	assert.Equal(t, "high", rec.Severity)
	assert.Equal(t, []database.BoundingBoxRecord{{X1: 10, Y1: 20, X2: 110, Y2: 220}}, rec.BoundingBoxes)
}

type recordingSink struct {
	name   string
	err    error
	mu     sync.Mutex
	ids    []string
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, a *pipeline.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, a.ID)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type countingObserver struct {
	mu        sync.Mutex
	delivered map[string]int
	failed    map[string]int
	dropped   int
}

func (o *countingObserver) AlertDelivered(sink string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed[sink]++
		return
	}
	o.delivered[sink]++
}

func (o *countingObserver) AlertDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) QueueDepth(int) {}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("unavailable")}
	obs := &countingObserver{delivered: map[string]int{}, failed: map[string]int{}}

	d := NewDispatcher(4, obs, failing, ok)
	assert.Equal(t, []string{"failing", "ok"}, d.Sinks())
	require.NoError(t, d.Start(context.Background()))

	first, second := fireAlert(), fireAlert()
	second.ID = "alert-2"
	assert.True(t, d.Submit(first))
	assert.True(t, d.Submit(second))

	require.Eventually(t, func() bool { return len(ok.delivered()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alert-1", "alert-2"}, failing.delivered())

	require.NoError(t, d.Stop(context.Background()))
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
	assert.False(t, d.Submit(fireAlert()), "stopped dispatcher rejects alerts")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.delivered["ok"])
	assert.Equal(t, 2, obs.failed["failing"])
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "ok"}
	obs := &countingObserver{delivered: map[string]int{}, failed: map[string]int{}}
	d := NewDispatcher(1, obs, sink)

	assert.True(t, d.Submit(fireAlert()))
	assert.False(t, d.Submit(fireAlert()))
	assert.Equal(t, uint64(1), d.Dropped())
	assert.Equal(t, 1, obs.dropped)

	// Queued alerts are delivered on stop
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []string{"alert-1"}, sink.delivered())
}
