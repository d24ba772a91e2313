package strategies

import (
	"sync"
	"time"

	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// ScheduledStrategy evaluates at most one tick per interval.
// Useful for periodic sampling of busy cameras.
type ScheduledStrategy struct {
	interval      time.Duration
	lastEvaluated time.Time
	mu            sync.Mutex
}

// NewScheduledStrategy creates a scheduled evaluation strategy
func NewScheduledStrategy(interval time.Duration) *ScheduledStrategy {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ScheduledStrategy{
		interval: interval,
	}
}

func (s *ScheduledStrategy) Name() string {
	return string(config.ModeScheduled)
}

func (s *ScheduledStrategy) ShouldEvaluate(tick *pipeline.TickInput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastEvaluated.IsZero() || tickTime(tick).Sub(s.lastEvaluated) >= s.interval
}

func (s *ScheduledStrategy) OnEvaluated(result *pipeline.TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvaluated = result.Timestamp
}

func (s *ScheduledStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvaluated = time.Time{}
}

// SetInterval updates the evaluation interval
func (s *ScheduledStrategy) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}

// Interval returns the evaluation interval
func (s *ScheduledStrategy) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
