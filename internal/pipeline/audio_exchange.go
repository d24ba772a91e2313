package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/config"
)

// AudioSnapshot is the latest analysed audio chunk of a camera
type AudioSnapshot struct {
	Scores []ModalityScore
	At     time.Time
}

// AudioExchange is a single-slot latest-value exchange between a camera's
// audio task and its tick loop. Readers never block.
type AudioExchange struct {
	slot atomic.Pointer[AudioSnapshot]
}

// Publish replaces the current snapshot
func (x *AudioExchange) Publish(s *AudioSnapshot) {
	x.slot.Store(s)
}

// Latest returns the freshest snapshot, or nil when none exists or it is
// older than staleAfter relative to now
func (x *AudioExchange) Latest(now time.Time, staleAfter time.Duration) *AudioSnapshot {
	s := x.slot.Load()
	if s == nil {
		return nil
	}
	if staleAfter > 0 && now.Sub(s.At) > staleAfter {
		return nil
	}
	return s
}

// AudioChunk is one out-of-band audio feature sample
type AudioChunk struct {
	Features AudioFeatures
	At       time.Time
}

// AudioChannel owns a camera's audio analyzer and publishes its outcomes
type AudioChannel struct {
	cameraID string
	analyzer AudioAnalyzer
	exchange AudioExchange
	cfg      atomic.Pointer[config.AudioConfig]
	mu       sync.Mutex // Serialises analyzer history
	chunks   atomic.Uint64
}

// NewAudioChannel creates an audio channel
func NewAudioChannel(cameraID string, analyzer AudioAnalyzer, cfg config.AudioConfig) *AudioChannel {
	ac := &AudioChannel{cameraID: cameraID, analyzer: analyzer}
	ac.cfg.Store(&cfg)
	return ac
}

// SetConfig applies new audio thresholds
func (ac *AudioChannel) SetConfig(cfg config.AudioConfig) {
	ac.cfg.Store(&cfg)
}

// Submit analyses one chunk and publishes the outcome
func (ac *AudioChannel) Submit(features AudioFeatures, at time.Time) *AudioSnapshot {
	ac.mu.Lock()
	scores := ac.analyzer.Analyze(features, ac.cfg.Load())
	ac.mu.Unlock()

	snap := &AudioSnapshot{Scores: scores, At: at}
	ac.exchange.Publish(snap)
	ac.chunks.Add(1)
	return snap
}

// Run consumes chunks until ctx is cancelled or ch is closed
func (ac *AudioChannel) Run(ctx context.Context, ch <-chan AudioChunk) {
	log.Printf("[Audio] Started audio channel for camera %s", ac.cameraID)
	defer log.Printf("[Audio] Stopped audio channel for camera %s", ac.cameraID)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			ac.Submit(chunk.Features, chunk.At)
		}
	}
}

// Latest returns the freshest non-stale snapshot
func (ac *AudioChannel) Latest(now time.Time) *AudioSnapshot {
	staleAfter := time.Duration(ac.cfg.Load().StaleAfterSeconds * float64(time.Second))
	return ac.exchange.Latest(now, staleAfter)
}

// Chunks returns the number of analysed chunks
func (ac *AudioChannel) Chunks() uint64 {
	return ac.chunks.Load()
}
