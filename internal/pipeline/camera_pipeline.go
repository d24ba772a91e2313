package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/config"
)

// ErrManagerClosed is returned by operations on a closed manager
var ErrManagerClosed = errors.New("pipeline manager closed")

// ErrAudioDisabled is returned when audio arrives for a camera without an
// audio channel
var ErrAudioDisabled = errors.New("audio scoring not enabled")

const (
	defaultTickBuffer  = 32
	defaultAudioBuffer = 16
)

// cameraPipeline runs the engine of a single camera on its own goroutine
type cameraPipeline struct {
	cameraID    string
	engine      *Engine
	strategy    EvaluationStrategy
	strategies  StrategyFactory
	feed        *TickFeed
	eventBus    *EventBus
	sub         *TickSubscription
	audioCh     chan AudioChunk
	cancelAudio context.CancelFunc
	active      atomic.Pointer[config.Effective]
	pending     atomic.Pointer[config.Effective] // Applied at the next tick boundary
	lastResult  *TickResult
	stopCh      chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex
	stats       *PipelineStats
	statsMu     sync.RWMutex
}

// ManagerOptions configures NewManager
type ManagerOptions struct {
	Scorers     ScorerFactory
	Audio       AudioAnalyzerFactory // Optional; nil disables audio scoring
	Strategies  StrategyFactory      // Optional; defaults to mode-based admission
	Observer    Observer             // Optional
	TickBuffer  int
	AudioBuffer int
}

// Manager manages the pipelines of all cameras
type Manager struct {
	pipelines map[string]*cameraPipeline
	feed      *TickFeed
	eventBus  *EventBus
	store     *config.Store
	opts      ManagerOptions
	cfgCh     <-chan *config.Config
	closeCh   chan struct{}
	closed    bool
	mu        sync.RWMutex
}

// NewManager creates a pipeline manager reading its configuration from
// store and publishing results on eventBus. Every config swapped into the
// store is forwarded to the running cameras.
func NewManager(store *config.Store, eventBus *EventBus, opts ManagerOptions) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if eventBus == nil {
		eventBus = NewEventBus()
	}
	if opts.Strategies == nil {
		opts.Strategies = modeStrategyFactory
	}
	if opts.TickBuffer <= 0 {
		opts.TickBuffer = defaultTickBuffer
	}
	if opts.AudioBuffer <= 0 {
		opts.AudioBuffer = defaultAudioBuffer
	}

	m := &Manager{
		pipelines: make(map[string]*cameraPipeline),
		feed:      NewTickFeed(),
		eventBus:  eventBus,
		store:     store,
		opts:      opts,
		cfgCh:     store.Subscribe(),
		closeCh:   make(chan struct{}),
	}
	go m.watchConfig()
	return m, nil
}

// EventBus returns the bus results are published on
func (m *Manager) EventBus() *EventBus {
	return m.eventBus
}

// StartCamera starts the pipeline of a camera using its effective config.
// An invalid configuration is refused with a *config.ConfigurationError.
func (m *Manager) StartCamera(cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("camera id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.pipelines[cameraID]; exists {
		return fmt.Errorf("pipeline already exists for camera %s", cameraID)
	}

	effective := m.store.Current().ForCamera(cameraID)

	engineOpts := EngineOptions{Scorers: m.opts.Scorers, Observer: m.opts.Observer}
	if m.opts.Audio != nil {
		engineOpts.Audio = m.opts.Audio()
	}
	engine, err := NewEngine(effective, engineOpts)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := m.feed.Open(cameraID); err != nil {
		return err
	}
	sub, err := m.feed.Subscribe(cameraID, m.opts.TickBuffer)
	if err != nil {
		m.feed.Close(cameraID)
		return fmt.Errorf("failed to subscribe to ticks: %w", err)
	}

	p := &cameraPipeline{
		cameraID:   cameraID,
		engine:     engine,
		strategy:   m.opts.Strategies(effective),
		strategies: m.opts.Strategies,
		feed:       m.feed,
		eventBus:   m.eventBus,
		sub:        sub,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		stats:      &PipelineStats{CameraID: cameraID},
	}
	p.active.Store(effective)
	p.describe(effective)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelAudio = cancel
	if audio := engine.Audio(); audio != nil {
		p.audioCh = make(chan AudioChunk, m.opts.AudioBuffer)
		go audio.Run(ctx, p.audioCh)
	}

	m.pipelines[cameraID] = p
	go p.run()

	log.Printf("[Pipeline] Started pipeline for camera %s (mode: %s, scorers: %v)",
		cameraID, effective.Evaluation.Mode, engine.ScorerNames())
	return nil
}

// StopCamera stops a camera's pipeline. The tick being processed finishes;
// all per-camera state is discarded.
func (m *Manager) StopCamera(cameraID string) error {
	m.mu.Lock()
	p, exists := m.pipelines[cameraID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("camera %s: %w", cameraID, ErrCameraNotRunning)
	}
	delete(m.pipelines, cameraID)
	m.mu.Unlock()

	p.stop()
	m.feed.Close(cameraID)
	log.Printf("[Pipeline] Stopped pipeline for camera %s", cameraID)
	return nil
}

// Ingest queues a tick for its camera
func (m *Manager) Ingest(tick *TickInput) error {
	if tick == nil {
		return fmt.Errorf("tick cannot be nil")
	}
	if tick.CameraID == "" {
		return fmt.Errorf("tick has no camera id")
	}
	return m.feed.Ingest(tick)
}

// IngestAudio queues an out-of-band audio chunk. Chunks are dropped while
// the camera's audio queue is full.
func (m *Manager) IngestAudio(cameraID string, features AudioFeatures, at time.Time) error {
	p := m.pipeline(cameraID)
	if p == nil {
		return fmt.Errorf("camera %s: %w", cameraID, ErrCameraNotRunning)
	}
	if p.audioCh == nil {
		return fmt.Errorf("camera %s: %w", cameraID, ErrAudioDisabled)
	}
	if at.IsZero() {
		at = time.Now()
	}

	select {
	case <-p.stopCh:
		return fmt.Errorf("camera %s: %w", cameraID, ErrCameraNotRunning)
	case p.audioCh <- AudioChunk{Features: features, At: at}:
		p.statsMu.Lock()
		p.stats.AudioChunks++
		p.statsMu.Unlock()
	default:
		p.statsMu.Lock()
		p.stats.AudioDropped++
		p.statsMu.Unlock()
	}
	return nil
}

// UpdateConfig hands every running camera its new effective config.
// Pipelines switch over at their next tick boundary.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for cameraID, p := range m.pipelines {
		effective := cfg.ForCamera(cameraID)
		p.pending.Store(effective)
		log.Printf("[Pipeline] Queued config update for camera %s (mode: %s)", cameraID, effective.Evaluation.Mode)
	}
}

func (m *Manager) watchConfig() {
	for {
		select {
		case <-m.closeCh:
			return
		case cfg, ok := <-m.cfgCh:
			if !ok {
				return
			}
			m.UpdateConfig(cfg)
		}
	}
}

// IsRunning reports whether a camera has a running pipeline
func (m *Manager) IsRunning(cameraID string) bool {
	return m.pipeline(cameraID) != nil
}

// Cameras returns the ids of running cameras in sorted order
func (m *Manager) Cameras() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStats returns pipeline statistics for a camera, nil when not running
func (m *Manager) GetStats(cameraID string) *PipelineStats {
	p := m.pipeline(cameraID)
	if p == nil {
		return nil
	}

	p.statsMu.RLock()
	stats := *p.stats
	p.statsMu.RUnlock()

	stats.Scorers = append([]string(nil), stats.Scorers...)
	if feed := m.feed.GetStats(cameraID); feed != nil {
		stats.TicksReceived = feed.TicksReceived
		stats.TicksDropped = feed.TicksDropped
	}
	return &stats
}

// Stats returns the statistics of every running camera
func (m *Manager) Stats() []*PipelineStats {
	ids := m.Cameras()
	out := make([]*PipelineStats, 0, len(ids))
	for _, id := range ids {
		if stats := m.GetStats(id); stats != nil {
			out = append(out, stats)
		}
	}
	return out
}

// GetEffectiveConfig returns the config a camera is currently running with
func (m *Manager) GetEffectiveConfig(cameraID string) *config.Effective {
	p := m.pipeline(cameraID)
	if p == nil {
		return nil
	}
	return p.active.Load()
}

// LastResult returns the latest tick result of a camera
func (m *Manager) LastResult(cameraID string) *TickResult {
	p := m.pipeline(cameraID)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResult
}

// History returns a camera's latest detection history. A camera that has
// not processed a tick yet reports every event as not detected.
func (m *Manager) History(cameraID string) (DetectionHistory, bool) {
	p := m.pipeline(cameraID)
	if p == nil {
		return nil, false
	}
	return p.history(), true
}

// SiteHistory combines the histories of all running cameras
func (m *Manager) SiteHistory() SiteHistory {
	m.mu.RLock()
	histories := make(map[string]DetectionHistory, len(m.pipelines))
	for id, p := range m.pipelines {
		histories[id] = p.history()
	}
	m.mu.RUnlock()
	return CombineHistories(histories)
}

// SubscribeResults registers a handler for tick results
func (m *Manager) SubscribeResults(handler ResultHandler) func() {
	return m.eventBus.Subscribe(handler)
}

// Close stops every pipeline. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	pipelines := m.pipelines
	m.pipelines = make(map[string]*cameraPipeline)
	m.mu.Unlock()

	m.store.Unsubscribe(m.cfgCh)
	for cameraID, p := range pipelines {
		p.stop()
		m.feed.Close(cameraID)
	}

	log.Printf("[Pipeline] Closed all camera pipelines")
	return nil
}

// Closed reports whether Close was called
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) pipeline(cameraID string) *cameraPipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipelines[cameraID]
}

// run is the processing loop of a single camera
func (p *cameraPipeline) run() {
	defer close(p.done)

	log.Printf("[Pipeline] Processing loop started for camera %s", p.cameraID)

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.sub.Done:
			return
		case tick := <-p.sub.Channel:
			if tick == nil {
				continue
			}
			p.processTick(tick)
		}
	}
}

func (p *cameraPipeline) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.done
	p.cancelAudio()
}

func (p *cameraPipeline) processTick(tick *TickInput) {
	if cfg := p.pending.Swap(nil); cfg != nil {
		p.apply(cfg)
	}

	var result *TickResult
	if p.strategy.ShouldEvaluate(tick) {
		result = p.engine.Process(tick, true)
		p.strategy.OnEvaluated(result)
	} else {
		result = p.engine.Skip(tick)
	}

	p.mu.Lock()
	p.lastResult = result
	p.mu.Unlock()

	p.statsMu.Lock()
	if result.Evaluated {
		p.stats.TicksEvaluated++
		n := time.Duration(p.stats.TicksEvaluated)
		p.stats.AvgTickDuration += (result.Duration - p.stats.AvgTickDuration) / n
	}
	p.stats.AlertsEmitted += uint64(len(result.Alerts))
	p.stats.ScorerFailures += uint64(result.Failures)
	stale := p.engine.Tracker().StaleCount()
	p.stats.ActiveTracks = p.engine.Tracker().Len() - stale
	p.stats.StaleTracks = stale
	p.stats.LastTickTime = result.Timestamp.Unix()
	p.statsMu.Unlock()

	p.eventBus.Publish(result)
}

// apply switches the engine and, when the evaluation settings changed, the
// strategy to a new effective config
func (p *cameraPipeline) apply(cfg *config.Effective) {
	prev := p.engine.Config()
	p.engine.Apply(cfg)
	if prev.Evaluation != cfg.Evaluation {
		p.strategy = p.strategies(cfg)
	}
	p.active.Store(cfg)
	p.describe(cfg)

	log.Printf("[Pipeline] Applied config for camera %s (mode: %s, scorers: %v)",
		p.cameraID, cfg.Evaluation.Mode, p.engine.ScorerNames())
}

// describe copies camera identity and settings into the stats
func (p *cameraPipeline) describe(cfg *config.Effective) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Name = cfg.Name
	p.stats.Zone = cfg.Zone
	p.stats.Location = cfg.Location
	p.stats.Mode = cfg.Evaluation.Mode
	p.stats.Scorers = p.engine.ScorerNames()
}

func (p *cameraPipeline) history() DetectionHistory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastResult == nil {
		return NewDetectionHistory()
	}
	return p.lastResult.History.Clone()
}

// modeStrategy admits ticks based on the evaluation mode alone
type modeStrategy struct {
	mode config.Mode
}

func modeStrategyFactory(cfg *config.Effective) EvaluationStrategy {
	return &modeStrategy{mode: cfg.Evaluation.Mode}
}

func (s *modeStrategy) Name() string                        { return string(s.mode) }
func (s *modeStrategy) ShouldEvaluate(tick *TickInput) bool { return s.mode != config.ModeDisabled }
func (s *modeStrategy) OnEvaluated(result *TickResult)      {}
func (s *modeStrategy) Reset()                              {}
