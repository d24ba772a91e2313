package scorers

import (
	"math"

	"guardian/internal/config"
	"guardian/internal/event"
	"guardian/internal/pipeline"
)

// FallScorer flags person boxes that are much wider than tall
type FallScorer struct{}

// NewFallScorer creates a fall scorer
func NewFallScorer() *FallScorer {
	return &FallScorer{}
}

func (s *FallScorer) Name() string { return config.ScorerFall }

// Score evaluates the geometry.fallen signal of one tick
func (s *FallScorer) Score(tc *pipeline.TickContext) ([]pipeline.ModalityScore, error) {
	threshold := tc.Config.Fall.AspectRatioThreshold
	out := pipeline.ModalityScore{
		Signal:   pipeline.SignalFallen,
		Modality: event.ModalityYOLO,
		Label:    "none",
		Metrics:  map[string]float64{"fallen_count": 0},
	}

	fallen := 0
	for _, p := range tc.Persons {
		aspect := p.BBox.AspectRatio()
		if aspect <= threshold {
			continue
		}
		fallen++
		conf := math.Min(0.6+(aspect-threshold)*0.4, 1.0)
		if conf > out.Confidence {
			out.Confidence = conf
			out.Metrics["aspect_ratio"] = aspect
		}
	}
	if fallen > 0 {
		out.Detected = true
		out.Label = "fallen"
	}
	out.Metrics["fallen_count"] = float64(fallen)
	return []pipeline.ModalityScore{out}, nil
}
