package pipeline_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
	"guardian/internal/pipeline/scorers"
)

func newManager(t *testing.T, cfg *config.Config, opts pipeline.ManagerOptions) (*pipeline.Manager, *config.Store) {
	t.Helper()
	store, err := config.NewStore(cfg)
	require.NoError(t, err)
	if opts.Scorers == nil {
		opts.Scorers = scorers.NewDefaultRegistry().Factory()
	}
	m, err := pipeline.NewManager(store, pipeline.NewEventBus(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, store
}

func waitResult(t *testing.T, ch <-chan *pipeline.TickResult) *pipeline.TickResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick result")
		return nil
	}
}

func lyingTick(cameraID string, seq uint64) *pipeline.TickInput {
	return &pipeline.TickInput{
		CameraID:    cameraID,
		Seq:         seq,
		Timestamp:   t0.Add(time.Duration(seq) * time.Second),
		PersonBoxes: []pipeline.DetectionBox{lyingPerson()},
	}
}

type collectingSink struct {
	mu     sync.Mutex
	alerts []*pipeline.AlertEvent
}

func (s *collectingSink) Submit(a *pipeline.AlertEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return true
}

func TestManager_ProcessesTicks(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	results, unsubscribe := m.EventBus().SubscribeCameraChannel("cam-1", 4)
	defer unsubscribe()

	sink := &collectingSink{}
	m.SubscribeResults(pipeline.NewAlertBridge(sink))

	require.NoError(t, m.StartCamera("cam-1"))
	assert.True(t, m.IsRunning("cam-1"))
	assert.Equal(t, []string{"cam-1"}, m.Cameras())

	require.NoError(t, m.Ingest(lyingTick("cam-1", 1)))
	res := waitResult(t, results)

	assert.Equal(t, uint64(1), res.Seq)
	assert.True(t, res.Evaluated)
	assert.True(t, res.History[event.Fallen].Detected())
	require.Len(t, res.Alerts, 1)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.alerts) == 1 && sink.alerts[0].EventType == event.Fallen
	}, time.Second, 5*time.Millisecond)

	history, ok := m.History("cam-1")
	require.True(t, ok)
	assert.Equal(t, res.History, history)

	stats := m.GetStats("cam-1")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.TicksReceived)
	assert.Equal(t, uint64(1), stats.TicksEvaluated)
	assert.Equal(t, uint64(1), stats.AlertsEmitted)
	assert.Equal(t, 1, stats.ActiveTracks)
	assert.Equal(t, config.ModeContinuous, stats.Mode)
	assert.Equal(t, t0.Add(time.Second).Unix(), stats.LastTickTime)
}

func TestManager_UnknownCamera(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})

	err := m.Ingest(lyingTick("nope", 1))
	assert.True(t, errors.Is(err, pipeline.ErrCameraNotRunning))

	err = m.StopCamera("nope")
	assert.True(t, errors.Is(err, pipeline.ErrCameraNotRunning))

	_, ok := m.History("nope")
	assert.False(t, ok)
	assert.Nil(t, m.GetStats("nope"))
	assert.Error(t, m.Ingest(&pipeline.TickInput{}), "camera id is required")
}

func TestManager_StartTwice(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	require.NoError(t, m.StartCamera("cam-1"))
	assert.Error(t, m.StartCamera("cam-1"))
	assert.Error(t, m.StartCamera(""))
}

func TestManager_FreshCameraReportsNothingDetected(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	require.NoError(t, m.StartCamera("cam-1"))

	history, ok := m.History("cam-1")
	require.True(t, ok)
	assert.Equal(t, pipeline.NewDetectionHistory(), history)
}

func TestManager_StopDiscardsState(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	results, unsubscribe := m.EventBus().SubscribeCameraChannel("cam-1", 4)
	defer unsubscribe()

	require.NoError(t, m.StartCamera("cam-1"))
	require.NoError(t, m.Ingest(lyingTick("cam-1", 1)))
	waitResult(t, results)

	require.NoError(t, m.StopCamera("cam-1"))
	assert.False(t, m.IsRunning("cam-1"))
	assert.True(t, errors.Is(m.Ingest(lyingTick("cam-1", 2)), pipeline.ErrCameraNotRunning))

	// A restarted camera starts from scratch, so the alert fires again
	require.NoError(t, m.StartCamera("cam-1"))
	require.NoError(t, m.Ingest(lyingTick("cam-1", 3)))
	res := waitResult(t, results)
	assert.Len(t, res.Alerts, 1)
}

func TestManager_HotReloadAppliesAtTickBoundary(t *testing.T) {
	m, store := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	results, unsubscribe := m.EventBus().SubscribeCameraChannel("cam-1", 4)
	defer unsubscribe()

	require.NoError(t, m.StartCamera("cam-1"))

	next := config.DefaultConfig()
	disabled := config.ModeDisabled
	next.Cameras = map[string]*config.CameraConfig{"cam-1": {Name: "Lobby", Mode: &disabled}}
	require.NoError(t, store.Swap(next))

	seq := uint64(0)
	require.Eventually(t, func() bool {
		seq++
		if err := m.Ingest(lyingTick("cam-1", seq)); err != nil {
			return false
		}
		select {
		case r := <-results:
			return !r.Evaluated
		case <-time.After(time.Second):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	effective := m.GetEffectiveConfig("cam-1")
	require.NotNil(t, effective)
	assert.Equal(t, "Lobby", effective.Name)

	stats := m.GetStats("cam-1")
	assert.Equal(t, config.ModeDisabled, stats.Mode)
	assert.Equal(t, "Lobby", stats.Name)
}

func TestManager_SiteHistory(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	results, unsubscribe := m.EventBus().SubscribeCameraChannel("cam-a", 4)
	defer unsubscribe()

	require.NoError(t, m.StartCamera("cam-a"))
	require.NoError(t, m.StartCamera("cam-b"))
	require.NoError(t, m.Ingest(lyingTick("cam-a", 1)))
	waitResult(t, results)

	site := m.SiteHistory()
	fallen := site[event.Fallen]
	assert.Equal(t, event.StatusDetected, fallen.Status)
	assert.Equal(t, []string{"cam-a"}, fallen.Cameras)
	assert.InDelta(t, 0.3, fallen.Confidence, 1e-9)
	assert.Equal(t, event.StatusNotDetected, site[event.Fire].Status)
}

func TestManager_Audio(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	require.NoError(t, m.StartCamera("cam-1"))
	err := m.IngestAudio("cam-1", pipeline.AudioFeatures{RMS: 0.5}, t0)
	assert.True(t, errors.Is(err, pipeline.ErrAudioDisabled))

	withAudio, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{
		Audio: scorers.Analyzer,
	})
	require.NoError(t, withAudio.StartCamera("cam-1"))
	require.NoError(t, withAudio.IngestAudio("cam-1", pipeline.AudioFeatures{RMS: 0.5}, t0))
	assert.Equal(t, uint64(1), withAudio.GetStats("cam-1").AudioChunks)

	err = withAudio.IngestAudio("nope", pipeline.AudioFeatures{}, t0)
	assert.True(t, errors.Is(err, pipeline.ErrCameraNotRunning))
}

func TestManager_Close(t *testing.T) {
	m, _ := newManager(t, config.DefaultConfig(), pipeline.ManagerOptions{})
	require.NoError(t, m.StartCamera("cam-1"))

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.Empty(t, m.Cameras())
	assert.True(t, errors.Is(m.StartCamera("cam-2"), pipeline.ErrManagerClosed))
	assert.NoError(t, m.Close())
}
