package pipeline

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"guardian/internal/config"
	"guardian/internal/event"
)

// Observer receives engine measurements. Implemented by the metrics package.
type Observer interface {
	TickProcessed(cameraID string, evaluated bool, d time.Duration)
	ScorerFailed(cameraID, scorer string)
	AlertEmitted(cameraID string, t event.Type, severity event.Severity)
	EventState(cameraID string, t event.Type, state EventState)
	TracksObserved(cameraID string, active, stale int)
}

type nopObserver struct{}

func (nopObserver) TickProcessed(string, bool, time.Duration)       {}
func (nopObserver) ScorerFailed(string, string)                     {}
func (nopObserver) AlertEmitted(string, event.Type, event.Severity) {}
func (nopObserver) EventState(string, event.Type, EventState)       {}
func (nopObserver) TracksObserved(string, int, int)                 {}

// Engine owns all per-camera scoring state and processes ticks strictly
// sequentially. It is not safe for concurrent use.
type Engine struct {
	cfg      *config.Effective
	tracker  *PersonTracker
	temporal *TemporalAggregator
	gate     *AlertGate
	audio    *AudioChannel
	history  DetectionHistory
	scorers  []Scorer
	factory  ScorerFactory
	observer Observer
}

// EngineOptions configures NewEngine
type EngineOptions struct {
	Scorers  ScorerFactory
	Audio    AudioAnalyzer // Optional; without it audio is always missing
	Observer Observer      // Optional
}

// NewEngine creates the engine of one camera
func NewEngine(cfg *config.Effective, opts EngineOptions) (*Engine, error) {
	if errFusionTable != nil {
		return nil, errFusionTable
	}
	if cfg == nil {
		return nil, fmt.Errorf("effective config is required")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("camera %s: %w", cfg.CameraID, err)
	}

	e := &Engine{
		cfg:      cfg,
		tracker:  NewPersonTracker(),
		temporal: NewTemporalAggregator(cfg.Temporal),
		gate:     NewAlertGate(),
		history:  NewDetectionHistory(),
		factory:  opts.Scorers,
		observer: opts.Observer,
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if opts.Audio != nil {
		e.audio = NewAudioChannel(cfg.CameraID, opts.Audio, cfg.Audio)
	}
	if e.factory != nil {
		e.scorers = e.factory(cfg)
	}
	warnUnreachable(cfg)
	return e, nil
}

// Apply switches to a new effective config. Scorers that stay enabled keep
// their history; temporal windows are resized keeping the newest flags.
func (e *Engine) Apply(cfg *config.Effective) {
	if cfg == nil {
		return
	}
	prev := e.cfg
	e.cfg = cfg
	warnUnreachable(cfg)
	e.temporal.Resize(cfg.Temporal.WindowSize)
	if e.audio != nil {
		e.audio.SetConfig(cfg.Audio)
	}

	if e.factory != nil && !slices.Equal(prev.Scorers, cfg.Scorers) {
		existing := make(map[string]Scorer, len(e.scorers))
		for _, s := range e.scorers {
			existing[s.Name()] = s
		}
		next := e.factory(cfg)
		for i, s := range next {
			if old, ok := existing[s.Name()]; ok {
				next[i] = old
			}
		}
		e.scorers = next
	}
}

// Config returns the active effective config
func (e *Engine) Config() *config.Effective {
	return e.cfg
}

// Audio returns the camera's audio channel, nil when audio is not analysed
func (e *Engine) Audio() *AudioChannel {
	return e.audio
}

// Tracker exposes the person tracker
func (e *Engine) Tracker() *PersonTracker {
	return e.tracker
}

// History returns a copy of the current detection history
func (e *Engine) History() DetectionHistory {
	return e.history.Clone()
}

// ScorerNames returns the active scorers in evaluation order
func (e *Engine) ScorerNames() []string {
	names := make([]string, 0, len(e.scorers))
	for _, s := range e.scorers {
		names = append(names, s.Name())
	}
	return names
}

// Process runs one tick: track, score, fuse, aggregate and gate.
// emitAlerts=false evaluates without passing the alert gate.
func (e *Engine) Process(tick *TickInput, emitAlerts bool) *TickResult {
	start := time.Now()
	now := tick.Timestamp
	if now.IsZero() {
		now = start
	}
	cfg := e.cfg

	result := &TickResult{
		CameraID:  cfg.CameraID,
		Seq:       tick.Seq,
		Timestamp: now,
		Evaluated: true,
	}

	persons := make([]DetectionBox, 0, len(tick.PersonBoxes))
	for _, b := range tick.PersonBoxes {
		if !b.IsPerson() {
			continue
		}
		if b.BBox.Valid() {
			persons = append(persons, b)
		}
	}

	upd := e.tracker.Update(tick.PersonBoxes, now, cfg.Tracker)
	if upd.Skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %d degenerate person boxes", upd.Skipped))
	}
	if upd.Stale > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d stale tracks", upd.Stale))
	}
	e.observer.TracksObserved(cfg.CameraID, e.tracker.Len(), upd.Stale)

	if tick.AudioFeatures != nil && e.audio != nil {
		e.audio.Submit(*tick.AudioFeatures, now)
	}

	tc := &TickContext{
		Input:   tick,
		Config:  cfg,
		Tracks:  e.tracker.Tracks(),
		Persons: persons,
		Now:     now,
	}

	var scores []ModalityScore
	for _, s := range e.scorers {
		out, err := e.runScorer(s, tc)
		if err != nil {
			if errors.Is(err, ErrMissingSignal) {
				continue
			}
			log.Printf("[Engine] Scorer %s failed for camera %s: %v", s.Name(), cfg.CameraID, err)
			e.observer.ScorerFailed(cfg.CameraID, s.Name())
			result.Failures++
			result.Warnings = append(result.Warnings, fmt.Sprintf("scorer %s: %v", s.Name(), err))
			continue
		}
		scores = append(scores, out...)
	}

	if e.audio != nil {
		if snap := e.audio.Latest(now); snap != nil {
			scores = append(scores, snap.Scores...)
		}
	}

	for i := range scores {
		scores[i].Confidence = Clamp01(scores[i].Confidence)
		if scores[i].Detected && scores[i].Confidence == 0 {
			scores[i].Detected = false
		}
	}
	result.Scores = scores

	decisions := Fuse(&FusionInput{
		Scores:      scores,
		PersonCount: len(persons),
		MotionLevel: tick.MotionLevel,
	}, &cfg.Config)

	for _, t := range event.All() {
		d := decisions[t]
		state := e.temporal.Update(t, d.Detected, d.Confidence, cfg.Required(t))
		e.history[t] = state
		e.observer.EventState(cfg.CameraID, t, state)
	}
	result.History = e.history.Clone()

	if emitAlerts && cfg.AlertsEnabled() {
		result.Alerts = e.gate.Evaluate(e.history, cfg, now, alertBoxes(tick, persons))
		for _, a := range result.Alerts {
			e.observer.AlertEmitted(cfg.CameraID, a.EventType, a.Severity)
		}
	}

	result.Duration = time.Since(start)
	e.observer.TickProcessed(cfg.CameraID, true, result.Duration)
	return result
}

// Skip records a tick that was ingested but not evaluated
func (e *Engine) Skip(tick *TickInput) *TickResult {
	now := tick.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	e.observer.TickProcessed(e.cfg.CameraID, false, 0)
	return &TickResult{
		CameraID:  e.cfg.CameraID,
		Seq:       tick.Seq,
		Timestamp: now,
		History:   e.history.Clone(),
	}
}

// runScorer isolates a scorer so that a panic only loses its own output
func (e *Engine) runScorer(s Scorer, tc *TickContext) (out []ModalityScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			out = nil
		}
	}()
	return s.Score(tc)
}

func warnUnreachable(cfg *config.Effective) {
	unreachable := Unreachable(&cfg.Config)
	for _, t := range event.All() {
		if ceiling, ok := unreachable[t]; ok {
			log.Printf("[Engine] Warning: camera %s (%s profile) can never detect %s: %s weights reach at most %.2f, threshold is %.2f",
				cfg.CameraID, cfg.Profile, t, modalityList(Contributors(t)), ceiling, cfg.Fusion.Thresholds[t])
		}
	}
	silent := UnreachableAlerts(&cfg.Config)
	for _, t := range event.All() {
		ceiling, ok := silent[t]
		if _, never := unreachable[t]; !ok || never {
			continue
		}
		log.Printf("[Engine] Warning: camera %s (%s profile) never alerts on %s: alert floor %.2f is above the fused maximum %.2f",
			cfg.CameraID, cfg.Profile, t, cfg.Alert.MinConfidence[t], ceiling)
	}
}

func modalityList(ms []event.Modality) string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = string(m)
	}
	return strings.Join(names, "+")
}

// alertBoxes returns the boxes attached to incident payloads
func alertBoxes(tick *TickInput, persons []DetectionBox) []BBox {
	boxes := make([]BBox, 0, len(persons)+len(tick.FireSmokeRegions))
	for _, p := range persons {
		boxes = append(boxes, p.BBox)
	}
	for _, r := range tick.FireSmokeRegions {
		if r.BBox.Valid() {
			boxes = append(boxes, r.BBox)
		}
	}
	return boxes
}
