package scorers

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/pipeline"
)

func TestFall_ConfidenceMonotonicInAspectRatio(t *testing.T) {
	prev := 0.0
	for width := 100; width <= 500; width += 5 {
		aspect := float64(width) / 100
		tc := newTickContext(&pipeline.TickInput{PersonBoxes: []pipeline.DetectionBox{box(0, 0, float64(width), 100)}})
		out, err := NewFallScorer().Score(tc)
		require.NoError(t, err)
		s := only(t, out, pipeline.SignalFallen)

		if aspect <= 1.3 {
			assert.False(t, s.Detected, "aspect %.2f", aspect)
			continue
		}
		assert.True(t, s.Detected, "aspect %.2f", aspect)
		assert.GreaterOrEqual(t, s.Confidence, prev, "aspect %.2f", aspect)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		prev = s.Confidence
	}
	assert.Equal(t, 1.0, prev)
}

func randomTick(rng *rand.Rand, at time.Time) *pipeline.TickInput {
	in := &pipeline.TickInput{
		Timestamp:   at,
		MotionLevel: rng.Float64() * 10,
	}
	for i := rng.Intn(40); i > 0; i-- {
		x, y := rng.Float64()*640, rng.Float64()*480
		in.PersonBoxes = append(in.PersonBoxes, box(x, y, x+rng.Float64()*200-20, y+rng.Float64()*200-20))
	}
	for i := rng.Intn(4); i > 0; i-- {
		kind := pipeline.RegionFire
		if rng.Intn(2) == 0 {
			kind = pipeline.RegionSmoke
		}
		in.FireSmokeRegions = append(in.FireSmokeRegions, pipeline.FireSmokeRegion{
			Kind:        kind,
			BBox:        pipeline.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50},
			FillRatio:   rng.Float64(),
			AspectRatio: rng.Float64() * 4,
			Color: &pipeline.ColorStats{
				HueMean: rng.Float64() * 180,
				SatMean: rng.Float64() * 255,
				ValMean: rng.Float64() * 255,
				SatStd:  rng.Float64() * 40,
				ValStd:  rng.Float64() * 40,
			},
			EdgeDensity: ptr(rng.Float64() * 0.2),
			Flicker:     ptr(rng.Float64()),
		})
	}
	for i := rng.Intn(4); i > 0; i-- {
		lm := make(map[string]pipeline.Landmark)
		for _, name := range []string{
			pipeline.LandmarkNose, pipeline.LandmarkLeftShoulder, pipeline.LandmarkRightShoulder,
			pipeline.LandmarkLeftHip, pipeline.LandmarkRightHip, pipeline.LandmarkLeftWrist, pipeline.LandmarkRightWrist,
		} {
			if rng.Intn(5) > 0 {
				lm[name] = pipeline.Landmark{X: rng.Float64() * 640, Y: rng.Float64() * 480, Visibility: rng.Float64()}
			}
		}
		in.PoseResults = append(in.PoseResults, pipeline.PoseResult{
			BBox:      pipeline.BBox{X1: 10, Y1: 10, X2: 60, Y2: 160},
			Landmarks: lm,
		})
	}
	return in
}

func TestScorers_ConfidenceAlwaysInUnitRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	registry := NewDefaultRegistry()
	cfg := newTickContext(&pipeline.TickInput{}).Config
	scorers := registry.Build(cfg)
	require.Len(t, scorers, 5)
	audio := NewAudioScorer()
	tracker := pipeline.NewPersonTracker()

	check := func(t *testing.T, tick int, scores []pipeline.ModalityScore) {
		t.Helper()
		for _, s := range scores {
			assert.False(t, math.IsNaN(s.Confidence), "tick %d %s", tick, s.Signal)
			assert.GreaterOrEqual(t, s.Confidence, 0.0, "tick %d %s", tick, s.Signal)
			assert.LessOrEqual(t, s.Confidence, 1.0, "tick %d %s", tick, s.Signal)
		}
	}

	for i := 0; i < 300; i++ {
		now := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		in := randomTick(rng, now)
		tracker.Update(in.PersonBoxes, now, cfg.Tracker)

		tc := newTickContext(in)
		tc.Tracks = tracker.Tracks()
		for _, s := range scorers {
			out, err := s.Score(tc)
			if errors.Is(err, pipeline.ErrMissingSignal) {
				continue
			}
			require.NoError(t, err, "tick %d %s", i, s.Name())
			check(t, i, out)
		}

		features := pipeline.AudioFeatures{
			RMS:               rng.Float64() * 0.5,
			SpectralCentroid:  rng.Float64() * 8000,
			SpectralRolloff:   rng.Float64() * 10000,
			ZeroCrossingRate:  rng.Float64() * 0.5,
			SpectralBandwidth: rng.Float64() * 4000,
		}
		check(t, i, audio.Analyze(features, &cfg.Audio))
	}
}
