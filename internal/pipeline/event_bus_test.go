package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/event"
)

func TestTickFeed_DropsForSlowSubscribers(t *testing.T) {
	feed := NewTickFeed()
	require.NoError(t, feed.Open("cam-1"))
	assert.Error(t, feed.Open("cam-1"))

	sub, err := feed.Subscribe("cam-1", 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, feed.Ingest(&TickInput{CameraID: "cam-1"}))
	}

	first := <-sub.Channel
	assert.Equal(t, uint64(1), first.Seq)
	assert.False(t, first.Timestamp.IsZero())

	stats := feed.GetStats("cam-1")
	assert.Equal(t, uint64(3), stats.TicksReceived)
	assert.Equal(t, uint64(2), stats.TicksDropped)

	require.NoError(t, feed.Close("cam-1"))
	<-sub.Done
	assert.False(t, feed.IsOpen("cam-1"))

	err = feed.Ingest(&TickInput{CameraID: "cam-1"})
	assert.True(t, errors.Is(err, ErrCameraNotRunning))
}

func TestTickFeed_KeepsProducerSeq(t *testing.T) {
	feed := NewTickFeed()
	require.NoError(t, feed.Open("cam-1"))
	sub, err := feed.Subscribe("cam-1", 2)
	require.NoError(t, err)

	require.NoError(t, feed.Ingest(&TickInput{CameraID: "cam-1", Seq: 42}))
	assert.Equal(t, uint64(42), (<-sub.Channel).Seq)

	feed.Unsubscribe(sub)
	<-sub.Done
	feed.Unsubscribe(sub)
}

func TestEventBus_CameraFilterAndChannels(t *testing.T) {
	bus := NewEventBus()

	var all, cam1 []string
	bus.Subscribe(ResultHandlerFunc(func(r *TickResult) { all = append(all, r.CameraID) }))
	unsubscribe := bus.SubscribeCamera("cam-1", ResultHandlerFunc(func(r *TickResult) { cam1 = append(cam1, r.CameraID) }))
	ch, closeCh := bus.SubscribeCameraChannel("cam-2", 1)
	assert.Equal(t, 3, bus.SubscriberCount())

	bus.Publish(&TickResult{CameraID: "cam-1"})
	bus.Publish(&TickResult{CameraID: "cam-2", Seq: 1})
	bus.Publish(&TickResult{CameraID: "cam-2", Seq: 2}) // Dropped, channel full
	bus.Publish(nil)

	assert.Equal(t, []string{"cam-1", "cam-2", "cam-2"}, all)
	assert.Equal(t, []string{"cam-1"}, cam1)
	assert.Equal(t, uint64(1), (<-ch).Seq)

	unsubscribe()
	closeCh()
	_, open := <-ch
	assert.False(t, open)
	closeCh()
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Close()
	assert.Zero(t, bus.SubscriberCount())
}

type rejectingSink struct{ seen int }

func (s *rejectingSink) Submit(*AlertEvent) bool {
	s.seen++
	return false
}

func TestAlertBridge_ForwardsEveryAlert(t *testing.T) {
	first, second := &rejectingSink{}, &rejectingSink{}
	bridge := NewAlertBridge(first, nil)
	bridge.AddSink(second)

	bridge.OnTickResult(&TickResult{CameraID: "cam-1"})
	bridge.OnTickResult(&TickResult{CameraID: "cam-1", Alerts: []*AlertEvent{
		{ID: "a", EventType: event.Fire},
		{ID: "b", EventType: event.Smoke},
	}})

	assert.Equal(t, 2, first.seen)
	assert.Equal(t, 2, second.seen)
}

func TestCombineHistories(t *testing.T) {
	a := NewDetectionHistory()
	a[event.Fire] = EventState{Confidence: 0.4, Status: event.StatusDetected}
	a[event.Smoke] = EventState{Confidence: 0.2, Status: event.StatusNotDetected}
	b := NewDetectionHistory()
	b[event.Fire] = EventState{Confidence: 0.7, Status: event.StatusDetected}
	b[event.Smoke] = EventState{Confidence: 0.3, Status: event.StatusNotDetected}

	site := CombineHistories(map[string]DetectionHistory{"cam-b": b, "cam-a": a})

	assert.Equal(t, SiteEvent{Confidence: 0.7, Status: event.StatusDetected, Cameras: []string{"cam-a", "cam-b"}}, site[event.Fire])
	assert.Equal(t, SiteEvent{Confidence: 0.3, Status: event.StatusNotDetected, Cameras: []string{}}, site[event.Smoke])
	assert.Len(t, site, len(event.All()))

	empty := CombineHistories(nil)
	assert.Equal(t, event.StatusNotDetected, empty[event.Stampede].Status)
}
