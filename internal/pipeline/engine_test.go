package pipeline_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
	"guardian/internal/pipeline/scorers"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu       sync.Mutex
	alerts   []event.Type
	failures []string
	ticks    int
}

func (o *recordingObserver) TickProcessed(string, bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
}

func (o *recordingObserver) ScorerFailed(_, scorer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, scorer)
}

func (o *recordingObserver) AlertEmitted(_ string, t event.Type, _ event.Severity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, t)
}

func (o *recordingObserver) EventState(string, event.Type, pipeline.EventState) {}
func (o *recordingObserver) TracksObserved(string, int, int)                    {}

type panickingScorer struct{}

func (panickingScorer) Name() string { return "boom" }
func (panickingScorer) Score(*pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	panic("index out of range")
}

type fixedScorer struct {
	scores []pipeline.ModalityScore
}

func (fixedScorer) Name() string { return "fixed" }
func (s fixedScorer) Score(*pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	return s.scores, nil
}

func factory(s ...pipeline.Scorer) pipeline.ScorerFactory {
	return func(*config.Effective) []pipeline.Scorer { return s }
}

func newEngine(t *testing.T, cfg *config.Config, opts pipeline.EngineOptions) *pipeline.Engine {
	t.Helper()
	if opts.Scorers == nil {
		opts.Scorers = scorers.NewDefaultRegistry().Factory()
	}
	e, err := pipeline.NewEngine(cfg.ForCamera("cam-1"), opts)
	require.NoError(t, err)
	return e
}

func lyingPerson() pipeline.DetectionBox {
	return pipeline.DetectionBox{ClassLabel: "person", Confidence: 0.9, BBox: pipeline.BBox{X1: 100, Y1: 300, X2: 360, Y2: 400}}
}

func TestEngine_FallenAlertsOnFirstTick(t *testing.T) {
	obs := &recordingObserver{}
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{Observer: obs})

	res := e.Process(&pipeline.TickInput{Seq: 1, Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, true)

	assert.True(t, res.Evaluated)
	assert.Empty(t, res.Warnings, "absent pose and fire/smoke input is not a warning")
	fallen := res.History[event.Fallen]
	assert.True(t, fallen.Detected())
	assert.InDelta(t, 0.3, fallen.Confidence, 1e-9)

	require.Len(t, res.Alerts, 1)
	a := res.Alerts[0]
	assert.Equal(t, event.Fallen, a.EventType)
	assert.Equal(t, event.CategoryMedicalEmergency, a.Category)
	assert.Equal(t, event.SeverityLow, a.Severity)
	assert.True(t, a.RequiresApproval)
	assert.Equal(t, []pipeline.BBox{lyingPerson().BBox}, a.BoundingBoxes)

	res = e.Process(&pipeline.TickInput{Seq: 2, Timestamp: t0.Add(time.Second), PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, true)
	assert.True(t, res.History[event.Fallen].Detected())
	assert.Empty(t, res.Alerts, "cooldown")
	assert.Equal(t, []event.Type{event.Fallen}, obs.alerts)
	assert.Equal(t, 2, obs.ticks)
}

func TestEngine_ScorerPanicIsIsolated(t *testing.T) {
	obs := &recordingObserver{}
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{
		Scorers:  factory(panickingScorer{}, scorers.NewFallScorer()),
		Observer: obs,
	})

	res := e.Process(&pipeline.TickInput{Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, false)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "scorer boom")
	assert.Equal(t, []string{"boom"}, obs.failures)
	assert.True(t, res.History[event.Fallen].Detected())
	assert.Empty(t, res.Alerts, "alerts not requested")
}

func TestEngine_ClampsScorerOutput(t *testing.T) {
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{
		Scorers: factory(fixedScorer{scores: []pipeline.ModalityScore{
			{Signal: pipeline.SignalFallen, Modality: event.ModalityYOLO, Detected: true, Confidence: 1.7},
			{Signal: pipeline.SignalRunning, Modality: event.ModalityYOLO, Detected: true, Confidence: math.NaN()},
		}}),
	})

	res := e.Process(&pipeline.TickInput{Timestamp: t0}, false)
	require.Len(t, res.Scores, 2)
	assert.Equal(t, 1.0, res.Scores[0].Confidence)
	assert.Zero(t, res.Scores[1].Confidence)
	assert.False(t, res.Scores[1].Detected)
	assert.InDelta(t, 0.3, res.History[event.Fallen].Confidence, 1e-9)
	assert.Zero(t, res.History[event.Running].Confidence)
}

func TestEngine_VisualOnlyNeverAlerts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Evaluation.Mode = config.ModeVisualOnly
	e := newEngine(t, cfg, pipeline.EngineOptions{})

	res := e.Process(&pipeline.TickInput{Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, true)
	assert.True(t, res.History[event.Fallen].Detected())
	assert.Empty(t, res.Alerts)
}

func TestEngine_DegenerateBoxesAreWarnings(t *testing.T) {
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{})
	res := e.Process(&pipeline.TickInput{Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{
		{BBox: pipeline.BBox{X1: 10, Y1: 10, X2: 10, Y2: 10}},
		lyingPerson(),
	}}, false)
	assert.Equal(t, []string{"skipped 1 degenerate person boxes"}, res.Warnings)
	assert.True(t, res.History[event.Fallen].Detected())
}

func TestEngine_InlineAudioAndStaleness(t *testing.T) {
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{Audio: scorers.NewAudioScorer()})
	loud := &pipeline.AudioFeatures{SpectralCentroid: 1200, RMS: 0.3, ZeroCrossingRate: 0.2, SpectralBandwidth: 1600}

	res := e.Process(&pipeline.TickInput{Timestamp: t0, AudioFeatures: loud}, false)
	panicScore := findScore(res.Scores, pipeline.SignalAudioPanic)
	require.NotNil(t, panicScore)
	assert.True(t, panicScore.Detected)
	assert.InDelta(t, 0.1, res.History[event.Stampede].Confidence, 1e-9)

	res = e.Process(&pipeline.TickInput{Timestamp: t0.Add(time.Second)}, false)
	assert.NotNil(t, findScore(res.Scores, pipeline.SignalAudioPanic), "fresh snapshot is reused")

	res = e.Process(&pipeline.TickInput{Timestamp: t0.Add(3 * time.Second)}, false)
	assert.Nil(t, findScore(res.Scores, pipeline.SignalAudioPanic), "stale audio is neutral")
	assert.Zero(t, res.History[event.Stampede].Confidence)
}

func TestEngine_ApplyKeepsScorerState(t *testing.T) {
	cfg := config.DefaultConfig()
	e := newEngine(t, cfg, pipeline.EngineOptions{})
	require.Equal(t, config.ScorerNames, e.ScorerNames())

	next := cfg.Clone()
	next.Scorers = []string{config.ScorerFall}
	next.Temporal.WindowSize = 5
	e.Apply(next.ForCamera("cam-1"))
	assert.Equal(t, []string{config.ScorerFall}, e.ScorerNames())
	assert.Equal(t, 5, e.Config().Temporal.WindowSize)

	res := e.Process(&pipeline.TickInput{Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, false)
	require.Len(t, res.Scores, 1)
	assert.Equal(t, pipeline.SignalFallen, res.Scores[0].Signal)
}

func TestEngine_SkipKeepsHistory(t *testing.T) {
	e := newEngine(t, config.DefaultConfig(), pipeline.EngineOptions{})
	e.Process(&pipeline.TickInput{Timestamp: t0, PersonBoxes: []pipeline.DetectionBox{lyingPerson()}}, false)

	res := e.Skip(&pipeline.TickInput{Seq: 9, Timestamp: t0.Add(time.Second)})
	assert.False(t, res.Evaluated)
	assert.Equal(t, uint64(9), res.Seq)
	assert.True(t, res.History[event.Fallen].Detected())
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Fusion.Weights[event.ModalityAudio] = 0.5

	_, err := pipeline.NewEngine(cfg.ForCamera("cam-1"), pipeline.EngineOptions{})
	var cerr *config.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.NotEmpty(t, cerr.Problems)
}

func findScore(scores []pipeline.ModalityScore, sig pipeline.Signal) *pipeline.ModalityScore {
	for i := range scores {
		if scores[i].Signal == sig {
			return &scores[i]
		}
	}
	return nil
}
