package pipeline

import (
	"fmt"
	"slices"

	"guardian/internal/config"
	"guardian/internal/event"
)

// FusionInput carries every raw score of a tick plus the scene aggregates
// some fusion terms read directly
type FusionInput struct {
	Scores      []ModalityScore
	PersonCount int
	MotionLevel float64
}

// maxDetected returns the highest confidence among detected scores of a signal
func (in *FusionInput) maxDetected(sig Signal) float64 {
	best := 0.0
	for _, s := range in.Scores {
		if s.Signal == sig && s.Detected && s.Confidence > best {
			best = s.Confidence
		}
	}
	return best
}

// sumDetected sums detected confidences of a signal, optionally restricted
// to the given labels
func (in *FusionInput) sumDetected(sig Signal, labels ...string) float64 {
	sum := 0.0
	for _, s := range in.Scores {
		if s.Signal != sig || !s.Detected {
			continue
		}
		if len(labels) > 0 && !containsString(labels, s.Label) {
			continue
		}
		sum += s.Confidence
	}
	return sum
}

// fusionTerm is one weighted contribution to an event. Summed terms add
// up per-person confidences and have no upper bound.
type fusionTerm struct {
	modality event.Modality
	value    func(in *FusionInput, cfg *config.Config) float64
	summed   bool
}

// fusionTable maps every event type to its contributing terms
var fusionTable = map[event.Type][]fusionTerm{
	event.Stampede: {
		{event.ModalityCrowd, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalStampede)
		}, false},
		{event.ModalityAudio, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalAudioPanic)
		}, false},
		{event.ModalityYOLO, func(in *FusionInput, cfg *config.Config) float64 {
			if in.PersonCount > cfg.Stampede.FusionPersonTrigger {
				return min(float64(in.PersonCount)/30.0, 1.0)
			}
			return 0
		}, false},
	},
	event.MedicalEmergency: {
		{event.ModalityPose, func(in *FusionInput, _ *config.Config) float64 {
			return in.sumDetected(SignalPoseEmergency)
		}, true},
		{event.ModalityAudio, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalAudioDistress)
		}, false},
	},
	event.Fire: {
		{event.ModalityFireSmoke, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalFire)
		}, false},
		{event.ModalityAudio, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalAudioFire)
		}, false},
	},
	event.Smoke: {
		{event.ModalityFireSmoke, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalSmoke)
		}, false},
	},
	event.Fallen: {
		{event.ModalityYOLO, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalFallen)
		}, false},
		{event.ModalityPose, func(in *FusionInput, _ *config.Config) float64 {
			return in.sumDetected(SignalPoseEmergency, PoseLabelLyingDown, PoseLabelCollapsed, PoseLabelHorizontal)
		}, true},
	},
	event.Running: {
		{event.ModalityCrowd, func(in *FusionInput, _ *config.Config) float64 {
			if in.MotionLevel > 1.5 {
				return min(in.MotionLevel/3.0, 1.0)
			}
			return 0
		}, false},
		{event.ModalityYOLO, func(in *FusionInput, _ *config.Config) float64 {
			return in.maxDetected(SignalRunning)
		}, false},
	},
}

// Pose labels that also count as a fallen person
const (
	PoseLabelLyingDown  = "lying_down"
	PoseLabelCollapsed  = "collapsed"
	PoseLabelHorizontal = "horizontal_pose"
)

var errFusionTable = checkFusionTable()

// ceilingEpsilon absorbs float error when comparing a weight sum to a threshold
const ceilingEpsilon = 1e-9

// checkFusionTable verifies that every event type has at least one term
func checkFusionTable() error {
	for _, t := range event.All() {
		if len(fusionTable[t]) == 0 {
			return fmt.Errorf("fusion table has no terms for event %q", t)
		}
	}
	return nil
}

// FusionDecision is the raw per-tick outcome for one event
type FusionDecision struct {
	Confidence float64                    `json:"confidence"`
	Detected   bool                       `json:"detected"`
	Terms      map[event.Modality]float64 `json:"terms,omitempty"`
}

// Fuse combines modality scores into one raw decision per event type.
// A missing modality contributes zero.
func Fuse(in *FusionInput, cfg *config.Config) map[event.Type]FusionDecision {
	out := make(map[event.Type]FusionDecision, len(fusionTable))
	for _, t := range event.All() {
		terms := make(map[event.Modality]float64, len(fusionTable[t]))
		sum := 0.0
		for _, term := range fusionTable[t] {
			// Per-person pose terms are sums and may exceed 1 before weighting
			contribution := term.value(in, cfg) * cfg.Fusion.Weights[term.modality]
			terms[term.modality] += contribution
			sum += contribution
		}
		conf := Clamp01(sum)
		out[t] = FusionDecision{
			Confidence: conf,
			Detected:   conf > cfg.Fusion.Thresholds[t],
			Terms:      terms,
		}
	}
	return out
}

// Ceiling returns the highest fused confidence an event can reach with the
// configured weights. Events fed by per-person pose sums are unbounded.
func Ceiling(cfg *config.Config, t event.Type) (float64, bool) {
	ceiling := 0.0
	for _, term := range fusionTable[t] {
		if term.summed && cfg.Fusion.Weights[term.modality] > 0 {
			return 0, false
		}
		ceiling += cfg.Fusion.Weights[term.modality]
	}
	return ceiling, true
}

// Contributors returns the modalities feeding an event, in table order
func Contributors(t event.Type) []event.Modality {
	var out []event.Modality
	for _, term := range fusionTable[t] {
		if !slices.Contains(out, term.modality) {
			out = append(out, term.modality)
		}
	}
	return out
}

// Unreachable lists the events whose threshold cannot be exceeded with the
// configured weights, even with every contributing term at full strength
func Unreachable(cfg *config.Config) map[event.Type]float64 {
	out := make(map[event.Type]float64)
	for _, t := range event.All() {
		if ceiling, bounded := Ceiling(cfg, t); bounded && ceiling <= cfg.Fusion.Thresholds[t]+ceilingEpsilon {
			out[t] = ceiling
		}
	}
	return out
}

// UnreachableAlerts lists the detectable events whose alert floor is above
// the highest confidence fusion can produce for them
func UnreachableAlerts(cfg *config.Config) map[event.Type]float64 {
	out := make(map[event.Type]float64)
	for _, t := range event.All() {
		floor, ok := cfg.Alert.MinConfidence[t]
		if !ok {
			continue
		}
		if ceiling, bounded := Ceiling(cfg, t); bounded && floor > ceiling+ceilingEpsilon {
			out[t] = ceiling
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
