package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"guardian/internal/config"
	"guardian/internal/event"
)

func TestTemporal_FallenRespondsBeforeFire(t *testing.T) {
	cfg := config.DefaultConfig()
	ta := NewTemporalAggregator(cfg.Temporal)

	fallen := ta.Update(event.Fallen, true, 0.4, cfg.Required(event.Fallen))
	fire := ta.Update(event.Fire, true, 0.4, cfg.Required(event.Fire))
	assert.True(t, fallen.Detected())
	assert.False(t, fire.Detected())

	fire = ta.Update(event.Fire, true, 0.4, cfg.Required(event.Fire))
	assert.True(t, fire.Detected())
}

func TestTemporal_KOfN(t *testing.T) {
	ta := NewTemporalAggregator(config.TemporalConfig{WindowSize: 3})

	steps := []struct {
		raw  bool
		want bool
	}{
		{true, false},
		{false, false},
		{true, true},   // [T F T]
		{false, false}, // [F T F]
		{false, false}, // [T F F]
		{true, false},  // [F F T]
		{true, true},   // [F T T]
	}
	for i, s := range steps {
		got := ta.Update(event.Stampede, s.raw, 0.5, 2)
		assert.Equal(t, s.want, got.Detected(), "step %d", i)
	}
}

func TestTemporal_ZeroConfidenceNeverDetected(t *testing.T) {
	ta := NewTemporalAggregator(config.TemporalConfig{WindowSize: 3})
	state := ta.Update(event.Fallen, true, 0, 1)
	assert.False(t, state.Detected())
	assert.Equal(t, event.StatusNotDetected, state.Status)
}

func TestTemporal_ClampsConfidence(t *testing.T) {
	ta := NewTemporalAggregator(config.TemporalConfig{WindowSize: 3})
	assert.Equal(t, 1.0, ta.Update(event.Fallen, true, 1.7, 1).Confidence)
}

func TestTemporal_ResizeKeepsNewest(t *testing.T) {
	ta := NewTemporalAggregator(config.TemporalConfig{WindowSize: 5})
	for _, raw := range []bool{true, true, false, false, true} {
		ta.Update(event.Smoke, raw, 0.5, 2)
	}

	ta.Resize(3)
	assert.Equal(t, []bool{false, false, true}, ta.Window(event.Smoke))

	ta.Resize(4)
	assert.Equal(t, []bool{false, false, true}, ta.Window(event.Smoke))
	ta.Update(event.Smoke, true, 0.5, 2)
	assert.Equal(t, []bool{false, false, true, true}, ta.Window(event.Smoke))
	ta.Update(event.Smoke, false, 0.5, 2)
	assert.Equal(t, []bool{false, true, true, false}, ta.Window(event.Smoke))
}
