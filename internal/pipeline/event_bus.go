package pipeline

import (
	"sync"
)

// EventBus fans tick results out to handlers and channels.
// Handlers run synchronously on the publishing camera goroutine, so each
// handler sees a camera's results in tick order.
type EventBus struct {
	subscribers map[*resultSubscription]bool
	mu          sync.RWMutex
}

type resultSubscription struct {
	cameraFilter string // Empty string means all cameras
	channel      chan *TickResult
	handler      ResultHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*resultSubscription]bool),
	}
}

// Subscribe registers a handler for results from all cameras.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.add(&resultSubscription{handler: handler})
}

// SubscribeCamera registers a handler for results of one camera
func (b *EventBus) SubscribeCamera(cameraID string, handler ResultHandler) func() {
	return b.add(&resultSubscription{cameraFilter: cameraID, handler: handler})
}

// SubscribeChannel returns a buffered channel receiving results from all
// cameras. Results are dropped while the channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *TickResult, func()) {
	return b.SubscribeCameraChannel("", bufferSize)
}

// SubscribeCameraChannel returns a buffered channel receiving the results
// of one camera
func (b *EventBus) SubscribeCameraChannel(cameraID string, bufferSize int) (<-chan *TickResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ch := make(chan *TickResult, bufferSize)
	return ch, b.add(&resultSubscription{cameraFilter: cameraID, channel: ch})
}

func (b *EventBus) add(sub *resultSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[sub]; !ok {
			return
		}
		delete(b.subscribers, sub)
		if sub.channel != nil {
			close(sub.channel)
		}
	}
}

// Publish delivers a result to every matching subscriber
func (b *EventBus) Publish(result *TickResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != result.CameraID {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnTickResult(result)
		} else if sub.channel != nil {
			select {
			case sub.channel <- result:
			default:
				// Channel full, skip this result
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
