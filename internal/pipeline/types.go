package pipeline

import (
	"errors"
	"math"
	"time"

	"guardian/internal/event"
)

// ErrMissingSignal is returned by a scorer whose input modality is absent
// this tick. Fusion treats the modality's contribution as zero.
var ErrMissingSignal = errors.New("missing signal")

// Point is a pixel coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the euclidean distance between two points
func (p Point) Dist(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float64 `json:"x1"` // Left
	Y1 float64 `json:"y1"` // Top
	X2 float64 `json:"x2"` // Right
	Y2 float64 `json:"y2"` // Bottom
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Valid reports whether the box has positive width and height.
// Zero-area and inverted boxes are degenerate and skipped by every consumer.
func (b BBox) Valid() bool {
	w, h := b.Width(), b.Height()
	return w > 0 && h > 0 && !math.IsNaN(w) && !math.IsNaN(h)
}

// Centroid returns the box center
func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// AspectRatio returns width/height (0 for degenerate boxes)
func (b BBox) AspectRatio() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() / b.Height()
}

// DetectionBox is an externally produced object detection
type DetectionBox struct {
	ClassLabel string  `json:"class_label"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// IsPerson reports whether the box describes a person. Unlabelled boxes in
// person_boxes are treated as persons.
func (d DetectionBox) IsPerson() bool {
	return d.ClassLabel == "" || d.ClassLabel == "person"
}

// Landmark is one pose keypoint in image coordinates (y grows downward)
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// Landmark names recognised by the pose scorer
const (
	LandmarkNose          = "nose"
	LandmarkLeftShoulder  = "left_shoulder"
	LandmarkRightShoulder = "right_shoulder"
	LandmarkLeftHip       = "left_hip"
	LandmarkRightHip      = "right_hip"
	LandmarkLeftWrist     = "left_wrist"
	LandmarkRightWrist    = "right_wrist"
)

// PoseResult is an externally estimated pose for one person
type PoseResult struct {
	PersonID  string              `json:"person_id,omitempty"`
	BBox      BBox                `json:"bbox"`
	Landmarks map[string]Landmark `json:"landmarks"`
}

// RegionKind tells which validator scores a colour region
type RegionKind string

const (
	RegionFire  RegionKind = "fire"
	RegionSmoke RegionKind = "smoke"
)

// ColorStats are HSV statistics of a region (H 0-180, S and V 0-255)
type ColorStats struct {
	HueMean float64 `json:"hue_mean"`
	SatMean float64 `json:"sat_mean"`
	ValMean float64 `json:"val_mean"`
	SatStd  float64 `json:"sat_std"`
	ValStd  float64 `json:"val_std"`
}

// FireSmokeRegion is a colour-segmented candidate region
type FireSmokeRegion struct {
	Kind        RegionKind  `json:"kind"`
	BBox        BBox        `json:"bbox"`
	FillRatio   float64     `json:"fill_ratio"`
	AspectRatio float64     `json:"aspect_ratio"`
	Color       *ColorStats `json:"color,omitempty"`
	EdgeDensity *float64    `json:"edge_density,omitempty"`
	Flicker     *float64    `json:"flicker,omitempty"`
}

// RawFrame is an encoded image used for fire/smoke self-segmentation
type RawFrame struct {
	Format string `json:"format"` // jpeg, png or webp
	Data   []byte `json:"data"`
}

// AudioFeatures are spectral features of one audio chunk
type AudioFeatures struct {
	RMS               float64 `json:"rms"`
	SpectralCentroid  float64 `json:"spectral_centroid"`
	SpectralRolloff   float64 `json:"spectral_rolloff"`
	ZeroCrossingRate  float64 `json:"zero_crossing_rate"`
	SpectralBandwidth float64 `json:"spectral_bandwidth"`
}

// TickInput is the frozen per-frame snapshot evaluated by a camera engine.
// Nil PoseResults / FireSmokeRegions mean the modality is unavailable.
type TickInput struct {
	CameraID         string            `json:"camera_id"`
	Seq              uint64            `json:"seq"`
	Timestamp        time.Time         `json:"timestamp"`
	FrameWidth       int               `json:"frame_width,omitempty"`
	FrameHeight      int               `json:"frame_height,omitempty"`
	PersonBoxes      []DetectionBox    `json:"person_boxes"`
	PoseResults      []PoseResult      `json:"pose_results,omitempty"`
	FireSmokeRegions []FireSmokeRegion `json:"fire_smoke_regions,omitempty"`
	Frame            *RawFrame         `json:"frame,omitempty"`
	MotionLevel      float64           `json:"motion_level"`
	AudioFeatures    *AudioFeatures    `json:"audio_features,omitempty"`
}

// Signal identifies one scorer output
type Signal string

const (
	SignalStampede      Signal = "crowd.stampede"
	SignalRunning       Signal = "motion.running"
	SignalFallen        Signal = "geometry.fallen"
	SignalPoseEmergency Signal = "pose.emergency"
	SignalFire          Signal = "color.fire"
	SignalSmoke         Signal = "color.smoke"
	SignalAudioDistress Signal = "audio.distress"
	SignalAudioFire     Signal = "audio.fire"
	SignalAudioPanic    Signal = "audio.panic"
)

// ModalityScore is one scorer's raw output for the current tick
type ModalityScore struct {
	Signal     Signal             `json:"signal"`
	Modality   event.Modality     `json:"modality"`
	Detected   bool               `json:"detected"`
	Confidence float64            `json:"confidence"`
	Label      string             `json:"label,omitempty"`
	SubjectID  string             `json:"subject_id,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// EventState is the published state of one event type
type EventState struct {
	Confidence float64      `json:"confidence"`
	Status     event.Status `json:"status"`
}

// Detected reports whether the event is published as detected
func (s EventState) Detected() bool {
	return s.Status == event.StatusDetected
}

// DetectionHistory is a camera's consolidated per-event state
type DetectionHistory map[event.Type]EventState

// NewDetectionHistory returns a history with every event not detected
func NewDetectionHistory() DetectionHistory {
	h := make(DetectionHistory, len(event.All()))
	for _, t := range event.All() {
		h[t] = EventState{Status: event.StatusNotDetected}
	}
	return h
}

// Clone returns a copy safe to hand to other goroutines
func (h DetectionHistory) Clone() DetectionHistory {
	out := make(DetectionHistory, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// AlertEvent is an emitted, deduplicated alert
type AlertEvent struct {
	ID               string         `json:"id"`
	CameraID         string         `json:"camera_id"`
	CameraName       string         `json:"camera_name"`
	Zone             string         `json:"zone"`
	Location         string         `json:"location"`
	EventType        event.Type     `json:"event_type"`
	Category         event.Category `json:"category"`
	Severity         event.Severity `json:"severity"`
	Confidence       float64        `json:"confidence"`
	RequiresApproval bool           `json:"requires_approval"`
	Description      string         `json:"description"`
	Timestamp        time.Time      `json:"timestamp"`
	BoundingBoxes    []BBox         `json:"bounding_boxes,omitempty"`
}

// TickResult is everything a camera engine produced for one tick
type TickResult struct {
	CameraID  string           `json:"camera_id"`
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Evaluated bool             `json:"evaluated"`
	History   DetectionHistory `json:"history"`
	Scores    []ModalityScore  `json:"scores,omitempty"`
	Alerts    []*AlertEvent    `json:"alerts,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Failures  int              `json:"scorer_failures,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Clamp01 clamps v into [0,1]; NaN becomes 0
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
