package scorers

import (
	"math"
	"strconv"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

// RunningScorer flags tracks moving faster than the speed threshold
type RunningScorer struct{}

// NewRunningScorer creates a running scorer
func NewRunningScorer() *RunningScorer {
	return &RunningScorer{}
}

func (s *RunningScorer) Name() string { return config.ScorerRunning }

// Score evaluates the motion.running signal of one tick. Speed is the
// displacement over the recent window divided by the seconds from the
// window's oldest position to the tick time, so a track that stops being
// matched slows down tick after tick. Stale tracks are ignored.
func (s *RunningScorer) Score(tc *pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	cfg := tc.Config.Running
	out := pipeline.ModalityScore{
		Signal:   pipeline.SignalRunning,
		Modality: event.ModalityYOLO,
		Label:    "none",
		Metrics:  map[string]float64{"running_count": 0},
	}

	running := 0
	for _, tr := range tc.Tracks {
		if len(tr.Positions) < 2 || tr.Stale {
			continue
		}
		window := tr.Last(cfg.Window)
		oldest, newest := window[0], window[len(window)-1]
		now := tc.Now
		if now.Before(newest.At) {
			now = newest.At
		}
		elapsed := now.Sub(oldest.At).Seconds()
		if elapsed <= 0 {
			continue
		}
		speed := oldest.Dist(newest.Point) / elapsed
		if speed <= cfg.SpeedThreshold {
			continue
		}
		running++
		conf := math.Min(speed/3.0, 1.0)
		if conf > out.Confidence || out.SubjectID == "" {
			out.Confidence = conf
			out.SubjectID = strconv.Itoa(tr.ID)
			out.Metrics["speed"] = speed
		}
	}
	if running > 0 {
		out.Detected = true
		out.Label = "running"
	}
	out.Metrics["running_count"] = float64(running)
	return []pipeline.ModalityScore{out}, nil
}
