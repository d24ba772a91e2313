package pipeline

import (
	"time"

	"guardian/internal/config"
)

// TickContext is the read-only view handed to every scorer for one tick
type TickContext struct {
	Input   *TickInput
	Config  *config.Effective
	Tracks  []*Track       // All tracks in insertion order, already updated for this tick
	Persons []DetectionBox // Valid person boxes of this tick
	Now     time.Time
}

// FrameSize returns the tick frame size, falling back to the configured size
func (tc *TickContext) FrameSize() (int, int) {
	w, h := tc.Input.FrameWidth, tc.Input.FrameHeight
	if w <= 0 {
		w = tc.Config.Frame.Width
	}
	if h <= 0 {
		h = tc.Config.Frame.Height
	}
	return w, h
}

// Scorer is the unified interface for all vision modality scorers.
// A scorer instance belongs to exactly one camera and may keep history.
type Scorer interface {
	// Name returns the scorer identifier (e.g., "stampede", "fall")
	Name() string

	// Score evaluates the tick and returns one or more raw scores.
	// Returns an error wrapping ErrMissingSignal when its input is absent.
	Score(tc *TickContext) ([]ModalityScore, error)
}

// ScorerFactory builds the scorer set for one camera
type ScorerFactory func(cfg *config.Effective) []Scorer

// AudioAnalyzer scores one audio chunk
type AudioAnalyzer interface {
	// Analyze returns the distress, fire and panic scores of a chunk
	Analyze(features AudioFeatures, cfg *config.AudioConfig) []ModalityScore
}

// AudioAnalyzerFactory builds the audio analyzer for one camera
type AudioAnalyzerFactory func() AudioAnalyzer

// EvaluationStrategy decides which ticks are evaluated
type EvaluationStrategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldEvaluate determines if the tick should be scored
	ShouldEvaluate(tick *TickInput) bool

	// OnEvaluated is called after a tick was evaluated
	OnEvaluated(result *TickResult)

	// Reset clears internal state
	Reset()
}

// StrategyFactory builds an evaluation strategy from an effective config
type StrategyFactory func(cfg *config.Effective) EvaluationStrategy

// ResultHandler receives tick results
type ResultHandler interface {
	// OnTickResult is called after every processed tick
	OnTickResult(result *TickResult)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *TickResult)

func (f ResultHandlerFunc) OnTickResult(result *TickResult) { f(result) }

// TickSubscription represents an active subscription to camera ticks
type TickSubscription struct {
	CameraID string
	Channel  chan *TickInput
	Done     chan struct{} // Closed when subscription is cancelled
}

// PipelineStats contains per-camera pipeline metrics
type PipelineStats struct {
	CameraID        string        `json:"camera_id"`
	Name            string        `json:"name"`
	Zone            string        `json:"zone"`
	Location        string        `json:"location"`
	Mode            config.Mode   `json:"mode"`
	Scorers         []string      `json:"scorers"`
	TicksReceived   uint64        `json:"ticks_received"`
	TicksDropped    uint64        `json:"ticks_dropped"`
	TicksEvaluated  uint64        `json:"ticks_evaluated"`
	AlertsEmitted   uint64        `json:"alerts_emitted"`
	ScorerFailures  uint64        `json:"scorer_failures"`
	AudioChunks     uint64        `json:"audio_chunks"`
	AudioDropped    uint64        `json:"audio_dropped"`
	ActiveTracks    int           `json:"active_tracks"`
	StaleTracks     int           `json:"stale_tracks"`
	AvgTickDuration time.Duration `json:"avg_tick_duration_ns"`
	LastTickTime    int64         `json:"last_tick_time"`
}
