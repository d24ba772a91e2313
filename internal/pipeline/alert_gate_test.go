package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/config"
	"guardian/internal/event"
)

func detected(conf float64) EventState {
	return EventState{Confidence: conf, Status: event.StatusDetected}
}

func gateConfig() *config.Effective {
	cfg := config.DefaultConfig()
	cfg.Cameras = map[string]*config.CameraConfig{
		"cam-1": {Name: "Lobby", Zone: "north", Location: "Main Hall"},
	}
	return cfg.ForCamera("cam-1")
}

func TestAlertGate_EmitsAndSuppressesWithinCooldown(t *testing.T) {
	g := NewAlertGate()
	cfg := gateConfig()
	history := NewDetectionHistory()
	history[event.Fire] = detected(0.82)

	alerts := g.Evaluate(history, cfg, t0, []BBox{{X1: 1, Y1: 1, X2: 5, Y2: 5}})
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "cam-1", a.CameraID)
	assert.Equal(t, "Lobby", a.CameraName)
	assert.Equal(t, "north", a.Zone)
	assert.Equal(t, event.CategoryFire, a.Category)
	assert.Equal(t, event.SeverityCritical, a.Severity)
	assert.True(t, a.RequiresApproval)
	assert.Equal(t, "AI Detection: Fire detected by Lobby at Main Hall with 82.0% confidence. Immediate evacuation and fire suppression may be required.", a.Description)
	assert.Len(t, a.BoundingBoxes, 1)

	assert.Empty(t, g.Evaluate(history, cfg, t0.Add(599*time.Second), nil))
	assert.Len(t, g.Evaluate(history, cfg, t0.Add(600*time.Second), nil), 1)
}

func TestAlertGate_CooldownIsPerEvent(t *testing.T) {
	g := NewAlertGate()
	cfg := gateConfig()
	history := NewDetectionHistory()
	history[event.Fallen] = detected(0.5)
	require.Len(t, g.Evaluate(history, cfg, t0, nil), 1)

	history[event.Running] = detected(0.9)
	alerts := g.Evaluate(history, cfg, t0.Add(time.Second), nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, event.Running, alerts[0].EventType)
	assert.Equal(t, event.CategorySecurityThreat, alerts[0].Category)
	assert.Equal(t, event.SeverityMedium, alerts[0].Severity)
}

func TestAlertGate_IgnoresUndetected(t *testing.T) {
	g := NewAlertGate()
	history := NewDetectionHistory()
	history[event.Smoke] = EventState{Confidence: 0.9, Status: event.StatusNotDetected}
	assert.Empty(t, g.Evaluate(history, gateConfig(), t0, nil))
	assert.Zero(t, g.Records())
}

func TestAlertGate_MinConfidence(t *testing.T) {
	g := NewAlertGate()
	cfg := gateConfig()
	cfg.Alert.MinConfidence = map[event.Type]float64{event.Stampede: 0.5}

	history := NewDetectionHistory()
	history[event.Stampede] = detected(0.45)
	assert.Empty(t, g.Evaluate(history, cfg, t0, nil))

	history[event.Stampede] = detected(0.55)
	alerts := g.Evaluate(history, cfg, t0, nil)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].RequiresApproval, "confidence below 0.7")
}

func TestAlertGate_EnhancedProfileFloors(t *testing.T) {
	tests := []struct {
		event event.Type
		below float64
		at    float64
	}{
		{event.Fire, 0.79, 0.8},
		{event.Smoke, 0.69, 0.7},
		{event.Stampede, 0.89, 0.9},
		{event.MedicalEmergency, 0.69, 0.7},
		{event.Fallen, 0.59, 0.6},
		{event.Running, 0.49, 0.5},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			g := NewAlertGate()
			cfg := config.ProfileDefaults(config.ProfileEnhanced).ForCamera("cam-1")

			history := NewDetectionHistory()
			history[tt.event] = detected(tt.below)
			assert.Empty(t, g.Evaluate(history, cfg, t0, nil), "below the floor")
			_, emitted := g.LastEmitted(tt.event)
			assert.False(t, emitted, "a suppressed alert does not start the cooldown")

			history[tt.event] = detected(tt.at)
			alerts := g.Evaluate(history, cfg, t0.Add(time.Second), nil)
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.event, alerts[0].EventType)
		})
	}
}

func TestAlertGate_PrunesOldRecords(t *testing.T) {
	g := NewAlertGate()
	cfg := gateConfig()
	cfg.Alert.CooldownSeconds = 10

	history := NewDetectionHistory()
	history[event.Fallen] = detected(0.9)
	g.Evaluate(history, cfg, t0, nil)
	require.Equal(t, 1, g.Records())

	empty := NewDetectionHistory()
	g.Evaluate(empty, cfg, t0.Add(18*time.Second), nil)
	assert.Equal(t, 1, g.Records(), "younger than twice the cooldown")

	// Pruning runs at most every half cooldown
	g.Evaluate(empty, cfg, t0.Add(21*time.Second), nil)
	assert.Equal(t, 1, g.Records())

	g.Evaluate(empty, cfg, t0.Add(23*time.Second), nil)
	assert.Zero(t, g.Records())
	_, ok := g.LastEmitted(event.Fallen)
	assert.False(t, ok)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t,
		"AI Detection: Medical Emergency detected by cam at Ward 3 with 75.0% confidence. Medical assistance may be required.",
		Describe(event.MedicalEmergency, "cam", "Ward 3", 0.75))
	assert.Equal(t,
		"AI Detection: Running detected by cam at Gate with 50.0% confidence.",
		Describe(event.Running, "cam", "Gate", 0.5))
}
