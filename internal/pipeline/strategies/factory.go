package strategies

import (
	"fmt"

	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// Create creates an evaluation strategy based on the effective configuration
func Create(cfg *config.Effective) (pipeline.EvaluationStrategy, error) {
	if cfg == nil {
		return NewDisabledStrategy(), nil
	}

	switch cfg.Evaluation.Mode {
	case config.ModeDisabled:
		return NewDisabledStrategy(), nil

	case config.ModeVisualOnly:
		// Visual only evaluates like continuous; the engine withholds alerts
		return NewContinuousStrategy(0), nil

	case config.ModeContinuous:
		return NewContinuousStrategy(0), nil

	case config.ModeScheduled:
		return NewScheduledStrategy(cfg.ScheduleInterval()), nil

	default:
		return nil, fmt.Errorf("unknown evaluation mode: %s", cfg.Evaluation.Mode)
	}
}

// Factory is a pipeline.StrategyFactory that falls back to continuous
// evaluation for unknown modes. Modes are validated at config load.
func Factory(cfg *config.Effective) pipeline.EvaluationStrategy {
	s, err := Create(cfg)
	if err != nil {
		return NewContinuousStrategy(0)
	}
	return s
}

// Ensure the strategies implement EvaluationStrategy
var (
	_ pipeline.EvaluationStrategy = (*ContinuousStrategy)(nil)
	_ pipeline.EvaluationStrategy = (*ScheduledStrategy)(nil)
	_ pipeline.EvaluationStrategy = (*DisabledStrategy)(nil)
)
