package scorers

import (
	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

const (
	audioHistorySize   = 20
	audioRecentWindow  = 5
	audioConsistency   = 0.6
	audioConsistentAdd = 0.2
)

type audioOutcome struct {
	distress, fire, panic bool
}

// AudioScorer scores audio feature chunks for distress, fire and crowd
// panic sounds. Safe for use by one goroutine at a time.
type AudioScorer struct {
	history []audioOutcome
}

// NewAudioScorer creates an audio scorer
func NewAudioScorer() *AudioScorer {
	return &AudioScorer{}
}

// Analyze returns the audio.distress, audio.fire and audio.panic scores of a
// chunk. Kinds detected in most of the recent chunks get a confidence boost.
func (s *AudioScorer) Analyze(f pipeline.AudioFeatures, cfg *config.AudioConfig) []pipeline.ModalityScore {
	distress := distressScore(f, cfg.DistressThreshold)
	fire := fireSoundScore(f, cfg.FireThreshold)
	panicScore := panicSoundScore(f, cfg.PanicThreshold)

	s.history = append(s.history, audioOutcome{
		distress: distress.Detected,
		fire:     fire.Detected,
		panic:    panicScore.Detected,
	})
	if len(s.history) > audioHistorySize {
		s.history = s.history[len(s.history)-audioHistorySize:]
	}

	if len(s.history) >= audioRecentWindow {
		var nDistress, nFire, nPanic int
		for _, o := range s.history[len(s.history)-audioRecentWindow:] {
			if o.distress {
				nDistress++
			}
			if o.fire {
				nFire++
			}
			if o.panic {
				nPanic++
			}
		}
		consistentBoost(&distress, nDistress)
		consistentBoost(&fire, nFire)
		consistentBoost(&panicScore, nPanic)
	}
	return []pipeline.ModalityScore{distress, fire, panicScore}
}

func consistentBoost(score *pipeline.ModalityScore, hits int) {
	if float64(hits)/audioRecentWindow > audioConsistency {
		score.Confidence = pipeline.Clamp01(score.Confidence + audioConsistentAdd)
	}
}

func audioScore(sig pipeline.Signal, score, threshold float64, label string) pipeline.ModalityScore {
	return pipeline.ModalityScore{
		Signal:     sig,
		Modality:   event.ModalityAudio,
		Detected:   score > threshold,
		Confidence: pipeline.Clamp01(score),
		Label:      label,
	}
}

func distressScore(f pipeline.AudioFeatures, threshold float64) pipeline.ModalityScore {
	score, label := 0.0, "none"
	if f.SpectralCentroid > 800 {
		score += 0.3
		label = "high_frequency_sound"
	}
	if f.RMS > 0.1 {
		score += 0.2
		if label == "none" {
			label = "loud_sound"
		}
	}
	if f.ZeroCrossingRate > 0.1 {
		score += 0.2
		if label == "none" {
			label = "noisy_sound"
		}
	}
	if f.SpectralBandwidth > 1000 {
		score += 0.3
		if label == "none" {
			label = "complex_sound"
		}
	}
	return audioScore(pipeline.SignalAudioDistress, score, threshold, label)
}

func fireSoundScore(f pipeline.AudioFeatures, threshold float64) pipeline.ModalityScore {
	score, label := 0.0, "none"
	if f.SpectralCentroid < 200 {
		score += 0.3
		label = "low_frequency_sound"
	}
	if f.SpectralRolloff > 3000 {
		score += 0.4
		label = "crackling_sound"
	}
	if f.RMS > 0.05 && f.RMS < 0.3 {
		score += 0.2
		if label == "none" {
			label = "moderate_sound"
		}
	}
	return audioScore(pipeline.SignalAudioFire, score, threshold, label)
}

func panicSoundScore(f pipeline.AudioFeatures, threshold float64) pipeline.ModalityScore {
	score, label := 0.0, "none"
	if f.RMS > 0.15 {
		score += 0.3
		label = "loud_crowd"
	}
	if f.SpectralCentroid > 1000 {
		score += 0.4
		label = "screams"
	}
	if f.ZeroCrossingRate > 0.15 {
		score += 0.3
		if label == "none" {
			label = "chaotic_noise"
		}
	}
	if f.SpectralBandwidth > 1500 {
		score += 0.2
		if label == "none" {
			label = "complex_crowd"
		}
	}
	return audioScore(pipeline.SignalAudioPanic, score, threshold, label)
}

// Ensure AudioScorer implements AudioAnalyzer
var _ pipeline.AudioAnalyzer = (*AudioScorer)(nil)
