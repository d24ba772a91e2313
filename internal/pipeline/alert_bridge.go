package pipeline

import (
	"log"
	"sync"
)

// AlertSink accepts alerts that passed the alert gate. Implementations
// must not block the calling camera goroutine.
type AlertSink interface {
	// Submit hands over one alert. Returns false when it was rejected.
	Submit(alert *AlertEvent) bool
}

// AlertBridge connects the event bus to alert sinks.
// It forwards every alert of a tick result to all registered sinks.
type AlertBridge struct {
	sinks []AlertSink
	mu    sync.RWMutex
}

// NewAlertBridge creates a new alert bridge
func NewAlertBridge(sinks ...AlertSink) *AlertBridge {
	return &AlertBridge{
		sinks: sinks,
	}
}

// AddSink adds an alert sink to the bridge
func (b *AlertBridge) AddSink(sink AlertSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// OnTickResult implements ResultHandler
func (b *AlertBridge) OnTickResult(result *TickResult) {
	if result == nil || len(result.Alerts) == 0 {
		return
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, alert := range result.Alerts {
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if !sink.Submit(alert) {
				log.Printf("[AlertBridge] Sink rejected %s alert %s for camera %s",
					alert.EventType, alert.ID, alert.CameraID)
			}
		}
	}
}

// Ensure AlertBridge implements ResultHandler
var _ ResultHandler = (*AlertBridge)(nil)
