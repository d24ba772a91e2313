package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"guardian/internal/config"
	"guardian/internal/event"
)

// AlertGate deduplicates alerts of one camera with a cooldown per event type
type AlertGate struct {
	lastEmitted map[event.Type]time.Time
	lastPrune   time.Time
	newID       func() string
}

// NewAlertGate creates an empty gate
func NewAlertGate() *AlertGate {
	return &AlertGate{
		lastEmitted: make(map[event.Type]time.Time),
		newID:       func() string { return uuid.New().String() },
	}
}

// Evaluate emits an alert for every detected event outside its cooldown.
// Events are visited in event.All order so output is deterministic.
func (g *AlertGate) Evaluate(history DetectionHistory, cfg *config.Effective, now time.Time, boxes []BBox) []*AlertEvent {
	cooldown := cfg.Cooldown()
	g.prune(now, cooldown)

	var alerts []*AlertEvent
	for _, t := range event.All() {
		state, ok := history[t]
		if !ok || !state.Detected() {
			continue
		}
		if state.Confidence < cfg.Alert.MinConfidence[t] {
			continue
		}
		if last, seen := g.lastEmitted[t]; seen && now.Sub(last) < cooldown {
			continue
		}

		g.lastEmitted[t] = now
		alerts = append(alerts, g.buildAlert(t, state.Confidence, cfg, now, boxes))
	}
	return alerts
}

func (g *AlertGate) buildAlert(t event.Type, confidence float64, cfg *config.Effective, now time.Time, boxes []BBox) *AlertEvent {
	category := event.CategoryOf(t)
	return &AlertEvent{
		ID:               g.newID(),
		CameraID:         cfg.CameraID,
		CameraName:       cfg.Name,
		Zone:             cfg.Zone,
		Location:         cfg.Location,
		EventType:        t,
		Category:         category,
		Severity:         event.SeverityOf(t, confidence),
		Confidence:       confidence,
		RequiresApproval: event.RequiresApproval(category, confidence),
		Description:      Describe(t, cfg.Name, cfg.Location, confidence),
		Timestamp:        now,
		BoundingBoxes:    boxes,
	}
}

// prune drops records older than twice the cooldown, at most once per half cooldown
func (g *AlertGate) prune(now time.Time, cooldown time.Duration) {
	if !g.lastPrune.IsZero() && now.Sub(g.lastPrune) < cooldown/2 {
		return
	}
	g.lastPrune = now
	for t, last := range g.lastEmitted {
		if now.Sub(last) > cooldown*2 {
			delete(g.lastEmitted, t)
		}
	}
}

// LastEmitted returns when an alert for t was last emitted
func (g *AlertGate) LastEmitted(t event.Type) (time.Time, bool) {
	last, ok := g.lastEmitted[t]
	return last, ok
}

// Records returns the number of tracked (event) records
func (g *AlertGate) Records() int {
	return len(g.lastEmitted)
}

// Describe builds the human readable incident description
func Describe(t event.Type, cameraName, location string, confidence float64) string {
	desc := fmt.Sprintf("AI Detection: %s detected by %s at %s with %.1f%% confidence.",
		t.Title(), cameraName, location, confidence*100)
	if advice := event.Advice(t); advice != "" {
		desc += " " + advice
	}
	return strings.TrimSpace(desc)
}
