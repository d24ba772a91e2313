package scorers

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

const (
	poseHistorySize   = 30
	poseRecentWindow  = 10
	poseRecentMean    = 0.3
	poseActiveBelow   = 0.3
	poseForgetAfter   = time.Minute
	labelRaisedHands  = "raised_hands"
	labelPartialHands = "partial_raised_hands"
	labelInactive     = "inactive"
)

// PoseScorer scores medical emergencies from pose landmarks. It keeps a
// per-camera score history and an inactivity timer per person.
type PoseScorer struct {
	history  []float64
	active   map[string]time.Time // Last time each person scored below poseActiveBelow
	lastSeen map[string]time.Time
}

// NewPoseScorer creates a pose scorer
func NewPoseScorer() *PoseScorer {
	return &PoseScorer{
		active:   make(map[string]time.Time),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *PoseScorer) Name() string { return config.ScorerPose }

// Score emits one pose.emergency score per pose result
func (s *PoseScorer) Score(tc *pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	if tc.Input.PoseResults == nil {
		return nil, fmt.Errorf("pose results: %w", pipeline.ErrMissingSignal)
	}
	cfg := tc.Config.Pose
	inactivity := tc.Config.Inactivity()
	now := tc.Now

	out := make([]pipeline.ModalityScore, 0, len(tc.Input.PoseResults))
	for i, pose := range tc.Input.PoseResults {
		id := s.identify(tc, i, pose)
		s.lastSeen[id] = now
		if _, ok := s.active[id]; !ok {
			s.active[id] = now
		}

		score, label, metrics := poseRules(pose.Landmarks, cfg.LyingRatio)

		if now.Sub(s.active[id]) > inactivity {
			score += 0.3
			label = labelInactive
		}
		if orientation, ok := metrics["body_orientation"]; ok && orientation > 45 && orientation < 135 {
			score += 0.2
			if label == "none" {
				label = pipeline.PoseLabelHorizontal
			}
		}
		if score < poseActiveBelow {
			s.active[id] = now
		}

		s.push(score)
		if s.consistentlyHigh() {
			score += 0.2
		}
		score = pipeline.Clamp01(score)

		out = append(out, pipeline.ModalityScore{
			Signal:     pipeline.SignalPoseEmergency,
			Modality:   event.ModalityPose,
			Detected:   score > cfg.DetectThreshold,
			Confidence: score,
			Label:      label,
			SubjectID:  id,
			Metrics:    metrics,
		})
	}

	s.forget(now)
	return out, nil
}

// identify resolves a stable person id for the pose
func (s *PoseScorer) identify(tc *pipeline.TickContext, index int, pose pipeline.PoseResult) string {
	if pose.PersonID != "" {
		return pose.PersonID
	}
	if pose.BBox.Valid() {
		if tr, ok := pipeline.NearestTrack(tc.Tracks, pose.BBox.Centroid(), tc.Config.Tracker.GatingDistance); ok {
			return strconv.Itoa(tr.ID)
		}
	}
	return fmt.Sprintf("pose-%d", index)
}

// poseRules applies the landmark rules that only depend on this frame.
// Orientation is reported in metrics and applied by the caller after
// inactivity so the label ordering matches rule order.
func poseRules(lm map[string]pipeline.Landmark, lyingRatio float64) (float64, string, map[string]float64) {
	score, label := 0.0, "none"
	metrics := make(map[string]float64)

	ls, okLS := lm[pipeline.LandmarkLeftShoulder]
	rs, okRS := lm[pipeline.LandmarkRightShoulder]
	lh, okLH := lm[pipeline.LandmarkLeftHip]
	rh, okRH := lm[pipeline.LandmarkRightHip]
	shoulders := okLS && okRS

	if shoulders && okLH && okRH {
		shMid := pipeline.Point{X: (ls.X + rs.X) / 2, Y: (ls.Y + rs.Y) / 2}
		hipMid := pipeline.Point{X: (lh.X + rh.X) / 2, Y: (lh.Y + rh.Y) / 2}
		metrics["body_orientation"] = math.Abs(math.Atan2(hipMid.Y-shMid.Y, hipMid.X-shMid.X) * 180 / math.Pi)

		height := math.Abs(ls.Y-rs.Y) + math.Abs(lh.Y-rh.Y)
		if height > 0 {
			ratio := (math.Abs(ls.X-rs.X) + math.Abs(lh.X-rh.X)) / height
			metrics["lying_ratio"] = ratio
			if ratio > lyingRatio {
				score += 0.4
				label = pipeline.PoseLabelLyingDown
			}
		}
	}

	lw, okLW := lm[pipeline.LandmarkLeftWrist]
	rw, okRW := lm[pipeline.LandmarkRightWrist]
	if shoulders && okLW && okRW {
		left, right := lw.Y < ls.Y, rw.Y < rs.Y
		switch {
		case left && right:
			score += 0.6
			label = labelRaisedHands
		case left || right:
			score += 0.3
			label = labelPartialHands
		}
	}

	if nose, ok := lm[pipeline.LandmarkNose]; ok && shoulders {
		if nose.Y > (ls.Y+rs.Y)/2 {
			score += 0.5
			label = pipeline.PoseLabelCollapsed
		}
	}
	return score, label, metrics
}

func (s *PoseScorer) push(score float64) {
	s.history = append(s.history, score)
	if len(s.history) > poseHistorySize {
		s.history = s.history[len(s.history)-poseHistorySize:]
	}
}

func (s *PoseScorer) consistentlyHigh() bool {
	if len(s.history) < poseRecentWindow {
		return false
	}
	return stat.Mean(s.history[len(s.history)-poseRecentWindow:], nil) > poseRecentMean
}

// forget drops timers of persons not seen for a while
func (s *PoseScorer) forget(now time.Time) {
	for id, seen := range s.lastSeen {
		if now.Sub(seen) > poseForgetAfter {
			delete(s.lastSeen, id)
			delete(s.active, id)
		}
	}
}
