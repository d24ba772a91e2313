package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/config"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func personAt(x, y float64) DetectionBox {
	return DetectionBox{ClassLabel: "person", Confidence: 0.9, BBox: BBox{X1: x - 10, Y1: y - 20, X2: x + 10, Y2: y + 20}}
}

func trackerConfig() config.TrackerConfig {
	return config.DefaultConfig().Tracker
}

func TestTracker_CreatesAndMatches(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()

	u := pt.Update([]DetectionBox{personAt(100, 100), personAt(400, 100)}, t0, cfg)
	assert.Equal(t, TrackUpdate{Created: 2}, u)

	u = pt.Update([]DetectionBox{personAt(110, 105), personAt(395, 100)}, t0.Add(time.Second), cfg)
	assert.Equal(t, TrackUpdate{Matched: 2}, u)

	tracks := pt.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, 0, tracks[0].ID)
	assert.Equal(t, Point{X: 110, Y: 105}, tracks[0].Newest().Point)
	assert.Equal(t, 1, tracks[1].ID)
	assert.Len(t, tracks[1].Positions, 2)
}

func TestTracker_GateIsStrict(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()
	pt.Update([]DetectionBox{personAt(100, 100)}, t0, cfg)

	// Exactly the gating distance away starts a new track
	u := pt.Update([]DetectionBox{personAt(150, 100)}, t0.Add(time.Second), cfg)
	assert.Equal(t, 1, u.Created)
	assert.Equal(t, 2, pt.Len())
}

func TestTracker_TieKeepsEarliestTrack(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()
	pt.Update([]DetectionBox{personAt(100, 100), personAt(160, 100)}, t0, cfg)

	pt.Update([]DetectionBox{personAt(130, 100)}, t0.Add(time.Second), cfg)
	tracks := pt.Tracks()
	assert.Len(t, tracks[0].Positions, 2)
	assert.Len(t, tracks[1].Positions, 1)
}

func TestTracker_GreedyMatchingMayShareTrack(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()
	pt.Update([]DetectionBox{personAt(100, 100)}, t0, cfg)

	u := pt.Update([]DetectionBox{personAt(110, 100), personAt(90, 100)}, t0.Add(time.Second), cfg)
	assert.Equal(t, 2, u.Matched)
	assert.Equal(t, 1, pt.Len())
	assert.Len(t, pt.Tracks()[0].Positions, 3)
}

func TestTracker_SkipsNonPersonAndDegenerateBoxes(t *testing.T) {
	pt := NewPersonTracker()
	car := DetectionBox{ClassLabel: "car", BBox: BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}}
	flat := DetectionBox{ClassLabel: "person", BBox: BBox{X1: 10, Y1: 10, X2: 10, Y2: 50}}
	inverted := DetectionBox{BBox: BBox{X1: 50, Y1: 50, X2: 10, Y2: 10}}

	u := pt.Update([]DetectionBox{car, flat, inverted, personAt(300, 300)}, t0, trackerConfig())
	assert.Equal(t, TrackUpdate{Created: 1, Skipped: 2}, u)
}

func TestTracker_TrimsPositions(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()
	cfg.MaxPositions = 3
	for i := 0; i < 5; i++ {
		pt.Update([]DetectionBox{personAt(100+float64(i), 100)}, t0.Add(time.Duration(i)*time.Second), cfg)
	}
	tr := pt.Tracks()[0]
	require.Len(t, tr.Positions, 3)
	assert.Equal(t, 102.0, tr.Positions[0].X)
	assert.Equal(t, 104.0, tr.Newest().X)
	assert.Len(t, tr.Last(2), 2)
}

func TestTracker_StaleFlagAndEviction(t *testing.T) {
	pt := NewPersonTracker()
	cfg := trackerConfig()
	pt.Update([]DetectionBox{personAt(100, 100), personAt(400, 100)}, t0, cfg)

	later := t0.Add(31 * time.Second)
	u := pt.Update([]DetectionBox{personAt(400, 100)}, later, cfg)
	assert.Equal(t, 1, u.Stale)
	assert.Equal(t, 2, pt.Len(), "stale tracks are kept by default")
	assert.True(t, pt.Tracks()[0].Stale)
	assert.Equal(t, 1, pt.StaleCount())

	cfg.EvictStale = true
	u = pt.Update(nil, later, cfg)
	assert.Equal(t, 1, u.Evicted)
	assert.Equal(t, 0, u.Stale)
	require.Equal(t, 1, pt.Len())
	assert.Equal(t, 1, pt.Tracks()[0].ID)

	// Ids are never reused after eviction
	pt.Update([]DetectionBox{personAt(100, 400)}, later, cfg)
	assert.Equal(t, 2, pt.Tracks()[1].ID)
}

func TestNearestTrack_NoTracks(t *testing.T) {
	_, ok := NearestTrack(nil, Point{}, 50)
	assert.False(t, ok)
}
