package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"guardian/internal/event"
)

// Profile selects a threshold preset
type Profile string

const (
	// ProfileStrict is the single-camera preset with conservative thresholds
	ProfileStrict Profile = "strict"
	// ProfileEnhanced lowers fire/smoke/running thresholds for multimodal deployments
	ProfileEnhanced Profile = "enhanced"
)

// Mode defines how a camera's ticks are evaluated
type Mode string

const (
	// ModeContinuous evaluates every tick and emits alerts
	ModeContinuous Mode = "continuous"
	// ModeScheduled evaluates at most once per schedule interval
	ModeScheduled Mode = "scheduled"
	// ModeVisualOnly evaluates every tick but never emits alerts
	ModeVisualOnly Mode = "visual_only"
	// ModeDisabled ingests ticks without evaluating them
	ModeDisabled Mode = "disabled"
)

// Scorer names accepted in the scorers list
const (
	ScorerStampede  = "stampede"
	ScorerFireSmoke = "fire_smoke"
	ScorerFall      = "fall"
	ScorerRunning   = "running"
	ScorerPose      = "pose"
)

// ScorerNames lists every vision scorer in evaluation order. Audio is scored
// on its own cadence and is not part of this list.
var ScorerNames = []string{ScorerStampede, ScorerFireSmoke, ScorerFall, ScorerRunning, ScorerPose}

const maxFileSize = 1 * 1024 * 1024

// Config is the complete scoring and fusion configuration. A *Config held by
// a Store is immutable; use Clone before modifying.
type Config struct {
	Profile    Profile                  `json:"profile"`
	Evaluation EvaluationConfig         `json:"evaluation"`
	Frame      FrameConfig              `json:"frame"`
	Scorers    []string                 `json:"scorers"`
	Tracker    TrackerConfig            `json:"tracker"`
	Stampede   StampedeConfig           `json:"stampede"`
	Fall       FallConfig               `json:"fall"`
	Running    RunningConfig            `json:"running"`
	FireSmoke  FireSmokeConfig          `json:"fire_smoke"`
	Pose       PoseConfig               `json:"pose"`
	Audio      AudioConfig              `json:"audio"`
	Fusion     FusionConfig             `json:"fusion"`
	Temporal   TemporalConfig           `json:"temporal"`
	Alert      AlertConfig              `json:"alert"`
	Cameras    map[string]*CameraConfig `json:"cameras,omitempty"`
	Sinks      SinksConfig              `json:"sinks"`
}

// EvaluationConfig controls tick admission
type EvaluationConfig struct {
	Mode               Mode `json:"mode"`
	ScheduleIntervalMs int  `json:"schedule_interval_ms"`
}

// FrameConfig is the frame size assumed when a tick does not report one
type FrameConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TrackerConfig configures person track association
type TrackerConfig struct {
	GatingDistance    float64 `json:"gating_distance_px"`
	MaxPositions      int     `json:"max_positions"`
	StaleAfterSeconds float64 `json:"stale_after_seconds"`
	EvictStale        bool    `json:"evict_stale"`
}

// StampedeConfig configures crowd panic scoring
type StampedeConfig struct {
	PersonCountTiers    []int   `json:"person_count_tiers"`
	GridCellSize        int     `json:"grid_cell_size_px"`
	ClusterLinkDistance float64 `json:"cluster_link_distance_px"`
	ChaosVelocity       float64 `json:"chaos_velocity_px"`
	FusionPersonTrigger int     `json:"fusion_person_trigger"`
}

// FallConfig configures the aspect-ratio fall detector
type FallConfig struct {
	AspectRatioThreshold float64 `json:"aspect_ratio_threshold"`
}

// RunningConfig configures the track velocity detector
type RunningConfig struct {
	SpeedThreshold float64 `json:"speed_threshold"`
	Window         int     `json:"window"`
}

// FireSmokeConfig configures region validation and self-segmentation
type FireSmokeConfig struct {
	FireThreshold    float64 `json:"fire_threshold"`
	SmokeThreshold   float64 `json:"smoke_threshold"`
	FlickerThreshold float64 `json:"flicker_threshold"`
	MinRegionArea    float64 `json:"min_region_area_px"`
	WorkingWidth     int     `json:"working_width_px"`
}

// PoseConfig configures the landmark emergency scorer
type PoseConfig struct {
	DetectThreshold   float64 `json:"detect_threshold"`
	LyingRatio        float64 `json:"lying_ratio"`
	InactivitySeconds float64 `json:"inactivity_seconds"`
}

// AudioConfig configures audio feature scoring
type AudioConfig struct {
	DistressThreshold float64 `json:"distress_threshold"`
	FireThreshold     float64 `json:"fire_threshold"`
	PanicThreshold    float64 `json:"panic_threshold"`
	StaleAfterSeconds float64 `json:"stale_after_seconds"`
}

// FusionConfig holds per-modality weights and per-event detection thresholds
type FusionConfig struct {
	Weights    map[event.Modality]float64 `json:"weights"`
	Thresholds map[event.Type]float64     `json:"thresholds"`
}

// TemporalConfig configures K-of-N promotion
type TemporalConfig struct {
	WindowSize int                `json:"window_size"`
	Required   map[event.Type]int `json:"required"`
}

// AlertConfig configures alert deduplication
type AlertConfig struct {
	CooldownSeconds int                    `json:"cooldown_seconds"`
	MinConfidence   map[event.Type]float64 `json:"min_confidence,omitempty"`
}

// SinksConfig configures alert delivery. Sinks are wired at startup only.
type SinksConfig struct {
	IncidentURL     string   `json:"incident_url,omitempty"`
	KafkaBrokers    []string `json:"kafka_brokers,omitempty"`
	KafkaTopic      string   `json:"kafka_topic,omitempty"`
	MQTTBroker      string   `json:"mqtt_broker,omitempty"`
	MQTTTopicPrefix string   `json:"mqtt_topic_prefix,omitempty"`
	QueueSize       int      `json:"queue_size,omitempty"`
}

// DefaultConfig returns the strict profile defaults
func DefaultConfig() *Config {
	return ProfileDefaults(ProfileStrict)
}

// ProfileDefaults returns the defaults for a profile. Unknown profiles fall
// back to strict.
func ProfileDefaults(profile Profile) *Config {
	cfg := &Config{
		Profile: ProfileStrict,
		Evaluation: EvaluationConfig{
			Mode:               ModeContinuous,
			ScheduleIntervalMs: 500,
		},
		Frame:   FrameConfig{Width: 640, Height: 480},
		Scorers: append([]string(nil), ScorerNames...),
		Tracker: TrackerConfig{
			GatingDistance:    50,
			MaxPositions:      30,
			StaleAfterSeconds: 30,
		},
		Stampede: StampedeConfig{
			PersonCountTiers:    []int{25, 20, 15, 10},
			GridCellSize:        100,
			ClusterLinkDistance: 150,
			ChaosVelocity:       50,
			FusionPersonTrigger: 20,
		},
		Fall:    FallConfig{AspectRatioThreshold: 1.3},
		Running: RunningConfig{SpeedThreshold: 1.5, Window: 5},
		FireSmoke: FireSmokeConfig{
			FireThreshold:    0.5,
			SmokeThreshold:   0.6,
			FlickerThreshold: 0.3,
			MinRegionArea:    500,
			WorkingWidth:     320,
		},
		Pose: PoseConfig{
			DetectThreshold:   0.4,
			LyingRatio:        0.7,
			InactivitySeconds: 5,
		},
		Audio: AudioConfig{
			DistressThreshold: 0.6,
			FireThreshold:     0.5,
			PanicThreshold:    0.7,
			StaleAfterSeconds: 2,
		},
		Fusion: FusionConfig{
			Weights: map[event.Modality]float64{
				event.ModalityYOLO:      0.3,
				event.ModalityPose:      0.2,
				event.ModalityFireSmoke: 0.2,
				event.ModalityCrowd:     0.2,
				event.ModalityAudio:     0.1,
			},
			Thresholds: map[event.Type]float64{
				event.Stampede:         0.3,
				event.MedicalEmergency: 0.25,
				event.Fire:             0.3,
				event.Smoke:            0.4,
				event.Fallen:           0.2,
				event.Running:          0.3,
			},
		},
		Temporal: TemporalConfig{
			WindowSize: 3,
			Required: map[event.Type]int{
				event.Stampede:         2,
				event.Running:          2,
				event.Fallen:           1,
				event.Fire:             2,
				event.Smoke:            2,
				event.MedicalEmergency: 2,
			},
		},
		Alert: AlertConfig{
			CooldownSeconds: 600,
			MinConfidence:   map[event.Type]float64{},
		},
		Sinks: SinksConfig{
			KafkaTopic:      "guardian.alerts",
			MQTTTopicPrefix: "guardian/alerts",
			QueueSize:       256,
		},
	}

	if profile == ProfileEnhanced {
		cfg.Profile = ProfileEnhanced
		cfg.Running.SpeedThreshold = 1.2
		cfg.FireSmoke.FireThreshold = 0.4
		cfg.FireSmoke.SmokeThreshold = 0.5
		cfg.Stampede.FusionPersonTrigger = 15
		cfg.Alert.MinConfidence = IncidentFloors()
	}
	return cfg
}

// IncidentFloors returns the per-event confidence an alert must reach before
// it is raised as an incident in the enhanced profile. Running has no
// dedicated floor and uses the 0.5 fallback.
func IncidentFloors() map[event.Type]float64 {
	return map[event.Type]float64{
		event.Fire:             0.8,
		event.Smoke:            0.7,
		event.Stampede:         0.9,
		event.MedicalEmergency: 0.7,
		event.Fallen:           0.6,
		event.Running:          0.5,
	}
}

// Load reads a JSON config file. Omitted fields keep the defaults of the
// profile named in the file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON config document
func Parse(data []byte) (*Config, error) {
	var head struct {
		Profile Profile `json:"profile"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := ProfileDefaults(head.Profile)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStrict
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Scorers = append([]string(nil), c.Scorers...)
	out.Stampede.PersonCountTiers = append([]int(nil), c.Stampede.PersonCountTiers...)
	out.Sinks.KafkaBrokers = append([]string(nil), c.Sinks.KafkaBrokers...)
	out.Fusion.Weights = make(map[event.Modality]float64, len(c.Fusion.Weights))
	for k, v := range c.Fusion.Weights {
		out.Fusion.Weights[k] = v
	}
	out.Fusion.Thresholds = make(map[event.Type]float64, len(c.Fusion.Thresholds))
	for k, v := range c.Fusion.Thresholds {
		out.Fusion.Thresholds[k] = v
	}
	out.Temporal.Required = make(map[event.Type]int, len(c.Temporal.Required))
	for k, v := range c.Temporal.Required {
		out.Temporal.Required[k] = v
	}
	out.Alert.MinConfidence = make(map[event.Type]float64, len(c.Alert.MinConfidence))
	for k, v := range c.Alert.MinConfidence {
		out.Alert.MinConfidence[k] = v
	}
	if c.Cameras != nil {
		out.Cameras = make(map[string]*CameraConfig, len(c.Cameras))
		for id, cam := range c.Cameras {
			out.Cameras[id] = cam.clone()
		}
	}
	return &out
}

// ConfigurationError lists every violation found while validating a config
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// WeightTolerance is the allowed deviation of the fusion weight sum from 1
const WeightTolerance = 0.01

// Validate checks the config and returns a *ConfigurationError on violation.
// Out-of-range values are reported, never clamped.
func (c *Config) Validate() error {
	verr := &ConfigurationError{}
	c.validateInto(verr, "")

	ids := make([]string, 0, len(c.Cameras))
	for id := range c.Cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == "" {
			verr.addf("cameras: empty camera id")
			continue
		}
		eff := c.Cameras[id].MergeWithGlobal(id, c)
		eff.Config.validateInto(verr, "cameras."+id+".")
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func (c *Config) validateInto(verr *ConfigurationError, prefix string) {
	unit := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			verr.addf("%s%s must be within [0,1], got %v", prefix, name, v)
		}
	}
	positive := func(name string, v float64) {
		if math.IsNaN(v) || v <= 0 {
			verr.addf("%s%s must be positive, got %v", prefix, name, v)
		}
	}

	switch c.Profile {
	case ProfileStrict, ProfileEnhanced:
	default:
		verr.addf("%sprofile must be %q or %q, got %q", prefix, ProfileStrict, ProfileEnhanced, c.Profile)
	}

	switch c.Evaluation.Mode {
	case ModeContinuous, ModeScheduled, ModeVisualOnly, ModeDisabled:
	default:
		verr.addf("%sevaluation.mode %q is not supported", prefix, c.Evaluation.Mode)
	}
	if c.Evaluation.Mode == ModeScheduled && c.Evaluation.ScheduleIntervalMs <= 0 {
		verr.addf("%sevaluation.schedule_interval_ms must be positive in scheduled mode", prefix)
	}

	positive("frame.width", float64(c.Frame.Width))
	positive("frame.height", float64(c.Frame.Height))

	known := make(map[string]bool, len(ScorerNames))
	for _, n := range ScorerNames {
		known[n] = true
	}
	for _, n := range c.Scorers {
		if !known[n] {
			verr.addf("%sscorers: unknown scorer %q", prefix, n)
		}
	}

	positive("tracker.gating_distance_px", c.Tracker.GatingDistance)
	if c.Tracker.MaxPositions < 2 {
		verr.addf("%stracker.max_positions must be at least 2, got %d", prefix, c.Tracker.MaxPositions)
	}
	if c.Tracker.StaleAfterSeconds < 0 {
		verr.addf("%stracker.stale_after_seconds must be non-negative", prefix)
	}

	tiers := c.Stampede.PersonCountTiers
	if len(tiers) != 4 {
		verr.addf("%sstampede.person_count_tiers must have 4 entries, got %d", prefix, len(tiers))
	} else {
		for i := 1; i < len(tiers); i++ {
			if tiers[i] <= 0 || tiers[i] >= tiers[i-1] {
				verr.addf("%sstampede.person_count_tiers must be positive and strictly descending", prefix)
				break
			}
		}
	}
	positive("stampede.grid_cell_size_px", float64(c.Stampede.GridCellSize))
	positive("stampede.cluster_link_distance_px", c.Stampede.ClusterLinkDistance)
	positive("stampede.chaos_velocity_px", c.Stampede.ChaosVelocity)
	positive("stampede.fusion_person_trigger", float64(c.Stampede.FusionPersonTrigger))

	positive("fall.aspect_ratio_threshold", c.Fall.AspectRatioThreshold)
	positive("running.speed_threshold", c.Running.SpeedThreshold)
	if c.Running.Window < 2 {
		verr.addf("%srunning.window must be at least 2, got %d", prefix, c.Running.Window)
	}

	unit("fire_smoke.fire_threshold", c.FireSmoke.FireThreshold)
	unit("fire_smoke.smoke_threshold", c.FireSmoke.SmokeThreshold)
	unit("fire_smoke.flicker_threshold", c.FireSmoke.FlickerThreshold)
	positive("fire_smoke.min_region_area_px", c.FireSmoke.MinRegionArea)
	if c.FireSmoke.WorkingWidth < 32 {
		verr.addf("%sfire_smoke.working_width_px must be at least 32, got %d", prefix, c.FireSmoke.WorkingWidth)
	}

	unit("pose.detect_threshold", c.Pose.DetectThreshold)
	positive("pose.lying_ratio", c.Pose.LyingRatio)
	positive("pose.inactivity_seconds", c.Pose.InactivitySeconds)

	unit("audio.distress_threshold", c.Audio.DistressThreshold)
	unit("audio.fire_threshold", c.Audio.FireThreshold)
	unit("audio.panic_threshold", c.Audio.PanicThreshold)
	positive("audio.stale_after_seconds", c.Audio.StaleAfterSeconds)

	sum := 0.0
	for _, m := range event.Modalities() {
		w, ok := c.Fusion.Weights[m]
		if !ok {
			verr.addf("%sfusion.weights: missing weight for %q", prefix, m)
			continue
		}
		unit("fusion.weights."+string(m), w)
		sum += w
	}
	for m := range c.Fusion.Weights {
		if !isModality(m) {
			verr.addf("%sfusion.weights: unknown modality %q", prefix, m)
		}
	}
	if math.Abs(sum-1) > WeightTolerance {
		verr.addf("%sfusion.weights must sum to 1±%.2f, got %.4f", prefix, WeightTolerance, sum)
	}

	for _, t := range event.All() {
		th, ok := c.Fusion.Thresholds[t]
		if !ok {
			verr.addf("%sfusion.thresholds: missing threshold for %q", prefix, t)
			continue
		}
		unit("fusion.thresholds."+string(t), th)
	}
	for t := range c.Fusion.Thresholds {
		if !t.Valid() {
			verr.addf("%sfusion.thresholds: unknown event %q", prefix, t)
		}
	}

	if c.Temporal.WindowSize < 1 {
		verr.addf("%stemporal.window_size must be at least 1, got %d", prefix, c.Temporal.WindowSize)
	}
	for _, t := range event.All() {
		k, ok := c.Temporal.Required[t]
		if !ok {
			verr.addf("%stemporal.required: missing count for %q", prefix, t)
			continue
		}
		if k < 1 || k > c.Temporal.WindowSize {
			verr.addf("%stemporal.required.%s must be within [1,%d], got %d", prefix, t, c.Temporal.WindowSize, k)
		}
	}
	for t := range c.Temporal.Required {
		if !t.Valid() {
			verr.addf("%stemporal.required: unknown event %q", prefix, t)
		}
	}

	if c.Alert.CooldownSeconds < 0 {
		verr.addf("%salert.cooldown_seconds must be non-negative, got %d", prefix, c.Alert.CooldownSeconds)
	}
	for t, v := range c.Alert.MinConfidence {
		if !t.Valid() {
			verr.addf("%salert.min_confidence: unknown event %q", prefix, t)
			continue
		}
		unit("alert.min_confidence."+string(t), v)
	}
}

func isModality(m event.Modality) bool {
	for _, known := range event.Modalities() {
		if m == known {
			return true
		}
	}
	return false
}

// Cooldown returns the alert cooldown window
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alert.CooldownSeconds) * time.Second
}

// StaleAfter returns the track staleness age, 0 when disabled
func (c *Config) StaleAfter() time.Duration {
	return seconds(c.Tracker.StaleAfterSeconds)
}

// AudioStaleAfter returns the age after which an audio snapshot is neutral
func (c *Config) AudioStaleAfter() time.Duration {
	return seconds(c.Audio.StaleAfterSeconds)
}

// Inactivity returns the pose inactivity threshold
func (c *Config) Inactivity() time.Duration {
	return seconds(c.Pose.InactivitySeconds)
}

// ScheduleInterval returns the minimum interval between scheduled evaluations
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Evaluation.ScheduleIntervalMs) * time.Millisecond
}

// HasScorer checks if a scorer is enabled
func (c *Config) HasScorer(name string) bool {
	for _, s := range c.Scorers {
		if s == name {
			return true
		}
	}
	return false
}

// Required returns the K of the K-of-N rule for an event
func (c *Config) Required(t event.Type) int {
	if k, ok := c.Temporal.Required[t]; ok {
		return k
	}
	return 2
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MarshalIndent renders the config as indented JSON
func (c *Config) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
