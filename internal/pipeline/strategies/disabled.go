package strategies

import (
	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// DisabledStrategy never evaluates.
// Ticks are still accepted and counted.
type DisabledStrategy struct{}

// NewDisabledStrategy creates a disabled evaluation strategy
func NewDisabledStrategy() *DisabledStrategy {
	return &DisabledStrategy{}
}

func (s *DisabledStrategy) Name() string {
	return string(config.ModeDisabled)
}

func (s *DisabledStrategy) ShouldEvaluate(tick *pipeline.TickInput) bool {
	return false
}

func (s *DisabledStrategy) OnEvaluated(result *pipeline.TickResult) {
	// No-op
}

func (s *DisabledStrategy) Reset() {
	// No-op
}
