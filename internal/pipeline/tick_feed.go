package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCameraNotRunning is returned when ticks arrive for a camera without a
// running pipeline
var ErrCameraNotRunning = errors.New("camera pipeline not running")

// FeedStats contains per-camera ingestion counters
type FeedStats struct {
	CameraID      string `json:"camera_id"`
	TicksReceived uint64 `json:"ticks_received"`
	TicksDropped  uint64 `json:"ticks_dropped"`
	LastTickTime  int64  `json:"last_tick_time"`
}

// TickFeed accepts ticks pushed by external producers and broadcasts them
// to the subscribers of each open camera
type TickFeed struct {
	cameras map[string]*cameraFeed
	mu      sync.RWMutex
}

// cameraFeed fans out the ticks of a single camera
type cameraFeed struct {
	cameraID    string
	subscribers map[*TickSubscription]bool
	subMu       sync.RWMutex
	tickSeq     atomic.Uint64
	stats       *FeedStats
	statsMu     sync.RWMutex
}

// NewTickFeed creates an empty tick feed
func NewTickFeed() *TickFeed {
	return &TickFeed{
		cameras: make(map[string]*cameraFeed),
	}
}

// Open starts accepting ticks for a camera
func (f *TickFeed) Open(cameraID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.cameras[cameraID]; exists {
		return fmt.Errorf("camera %s already open", cameraID)
	}

	f.cameras[cameraID] = &cameraFeed{
		cameraID:    cameraID,
		subscribers: make(map[*TickSubscription]bool),
		stats:       &FeedStats{CameraID: cameraID},
	}

	log.Printf("[TickFeed] Opened feed for camera %s", cameraID)
	return nil
}

// Close stops accepting ticks for a camera and releases its subscribers
func (f *TickFeed) Close(cameraID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	feed, exists := f.cameras[cameraID]
	if !exists {
		return fmt.Errorf("camera %s not found", cameraID)
	}

	feed.close()
	delete(f.cameras, cameraID)

	log.Printf("[TickFeed] Closed feed for camera %s", cameraID)
	return nil
}

// Subscribe returns a buffered subscription to a camera's ticks. Ticks are
// dropped for subscribers whose buffer is full.
func (f *TickFeed) Subscribe(cameraID string, bufferSize int) (*TickSubscription, error) {
	f.mu.RLock()
	feed, exists := f.cameras[cameraID]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("camera %s not found", cameraID)
	}

	if bufferSize <= 0 {
		bufferSize = 16
	}

	sub := &TickSubscription{
		CameraID: cameraID,
		Channel:  make(chan *TickInput, bufferSize),
		Done:     make(chan struct{}),
	}

	feed.subMu.Lock()
	feed.subscribers[sub] = true
	count := len(feed.subscribers)
	feed.subMu.Unlock()

	log.Printf("[TickFeed] New subscriber for camera %s (total: %d)", cameraID, count)
	return sub, nil
}

// Unsubscribe cancels a subscription
func (f *TickFeed) Unsubscribe(sub *TickSubscription) {
	if sub == nil {
		return
	}

	f.mu.RLock()
	feed, exists := f.cameras[sub.CameraID]
	f.mu.RUnlock()

	if !exists {
		return
	}

	feed.subMu.Lock()
	if _, ok := feed.subscribers[sub]; ok {
		delete(feed.subscribers, sub)
		close(sub.Done)
	}
	feed.subMu.Unlock()
}

// IsOpen reports whether the camera accepts ticks
func (f *TickFeed) IsOpen(cameraID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.cameras[cameraID]
	return exists
}

// Ingest broadcasts a tick to the camera's subscribers. A zero Seq is
// replaced by the feed's own sequence number.
func (f *TickFeed) Ingest(tick *TickInput) error {
	if tick == nil {
		return fmt.Errorf("tick cannot be nil")
	}

	f.mu.RLock()
	feed, exists := f.cameras[tick.CameraID]
	f.mu.RUnlock()

	if !exists {
		return fmt.Errorf("camera %s: %w", tick.CameraID, ErrCameraNotRunning)
	}

	feed.broadcast(tick)
	return nil
}

// GetStats returns a copy of the camera's feed counters
func (f *TickFeed) GetStats(cameraID string) *FeedStats {
	f.mu.RLock()
	feed, exists := f.cameras[cameraID]
	f.mu.RUnlock()

	if !exists {
		return nil
	}

	feed.statsMu.RLock()
	defer feed.statsMu.RUnlock()

	stats := *feed.stats
	return &stats
}

func (c *cameraFeed) close() {
	c.subMu.Lock()
	for sub := range c.subscribers {
		close(sub.Done)
		delete(c.subscribers, sub)
	}
	c.subMu.Unlock()
}

func (c *cameraFeed) broadcast(tick *TickInput) {
	seq := c.tickSeq.Add(1)
	if tick.Seq == 0 {
		tick.Seq = seq
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}

	c.statsMu.Lock()
	c.stats.TicksReceived++
	c.stats.LastTickTime = tick.Timestamp.Unix()
	c.statsMu.Unlock()

	c.subMu.RLock()
	for sub := range c.subscribers {
		select {
		case sub.Channel <- tick:
		default:
			// Subscriber is slow, drop tick
			c.statsMu.Lock()
			c.stats.TicksDropped++
			c.statsMu.Unlock()
		}
	}
	subCount := len(c.subscribers)
	c.subMu.RUnlock()

	// Log progress every 100 ticks
	if seq%100 == 0 {
		log.Printf("[TickFeed] Camera %s: tick %d, %d subscribers", c.cameraID, seq, subCount)
	}
}
