package strategies

import (
	"sync"
	"time"

	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// ContinuousStrategy evaluates every tick.
// Optionally rate-limits on tick timestamps to avoid overwhelming the engine.
type ContinuousStrategy struct {
	minInterval   time.Duration // Minimum time between evaluations
	lastEvaluated time.Time
	mu            sync.Mutex
}

// NewContinuousStrategy creates a continuous evaluation strategy.
// minInterval can be 0 to evaluate every tick.
func NewContinuousStrategy(minInterval time.Duration) *ContinuousStrategy {
	return &ContinuousStrategy{
		minInterval: minInterval,
	}
}

func (s *ContinuousStrategy) Name() string {
	return string(config.ModeContinuous)
}

func (s *ContinuousStrategy) ShouldEvaluate(tick *pipeline.TickInput) bool {
	if s.minInterval == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastEvaluated.IsZero() || tickTime(tick).Sub(s.lastEvaluated) >= s.minInterval
}

func (s *ContinuousStrategy) OnEvaluated(result *pipeline.TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvaluated = result.Timestamp
}

func (s *ContinuousStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvaluated = time.Time{}
}

// tickTime returns the tick timestamp, or the wall clock for unstamped ticks
func tickTime(tick *pipeline.TickInput) time.Time {
	if tick == nil || tick.Timestamp.IsZero() {
		return time.Now()
	}
	return tick.Timestamp
}
