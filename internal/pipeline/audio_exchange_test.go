package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/config"
	"guardian/internal/event"
)

// fixedAnalyzer reports audio panic with the chunk's RMS as confidence
type fixedAnalyzer struct{}

func (fixedAnalyzer) Analyze(f AudioFeatures, _ *config.AudioConfig) []ModalityScore {
	return []ModalityScore{{Signal: SignalAudioPanic, Modality: event.ModalityAudio, Detected: true, Confidence: f.RMS}}
}

func TestAudioExchange_Staleness(t *testing.T) {
	var x AudioExchange
	assert.Nil(t, x.Latest(t0, 2*time.Second))

	x.Publish(&AudioSnapshot{At: t0})
	assert.NotNil(t, x.Latest(t0.Add(2*time.Second), 2*time.Second))
	assert.Nil(t, x.Latest(t0.Add(2001*time.Millisecond), 2*time.Second))
}

func TestAudioChannel_SubmitPublishesLatest(t *testing.T) {
	ac := NewAudioChannel("cam-1", fixedAnalyzer{}, config.DefaultConfig().Audio)
	ac.Submit(AudioFeatures{RMS: 0.4}, t0)
	ac.Submit(AudioFeatures{RMS: 0.8}, t0.Add(time.Second))

	snap := ac.Latest(t0.Add(time.Second))
	require.NotNil(t, snap)
	assert.Equal(t, 0.8, snap.Scores[0].Confidence)
	assert.Equal(t, uint64(2), ac.Chunks())

	assert.Nil(t, ac.Latest(t0.Add(4*time.Second)))

	cfg := config.DefaultConfig().Audio
	cfg.StaleAfterSeconds = 5
	ac.SetConfig(cfg)
	assert.NotNil(t, ac.Latest(t0.Add(4*time.Second)))
}

func TestAudioChannel_Run(t *testing.T) {
	ac := NewAudioChannel("cam-1", fixedAnalyzer{}, config.DefaultConfig().Audio)
	ch := make(chan AudioChunk)
	done := make(chan struct{})
	go func() {
		ac.Run(context.Background(), ch)
		close(done)
	}()

	ch <- AudioChunk{Features: AudioFeatures{RMS: 0.3}, At: t0}
	ch <- AudioChunk{Features: AudioFeatures{RMS: 0.6}, At: t0}
	close(ch)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel did not stop")
	}
	assert.Equal(t, uint64(2), ac.Chunks())
	assert.Equal(t, 0.6, ac.Latest(t0).Scores[0].Confidence)
}

func TestAudioChannel_RunStopsOnCancel(t *testing.T) {
	ac := NewAudioChannel("cam-1", fixedAnalyzer{}, config.DefaultConfig().Audio)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ac.Run(ctx, make(chan AudioChunk))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel ignored cancellation")
	}
}
