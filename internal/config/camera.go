package config

// CameraConfig contains per-camera overrides.
// Nil/zero values mean "inherit from global config"
type CameraConfig struct {
	Name     string `json:"name,omitempty"`
	Zone     string `json:"zone,omitempty"`
	Location string `json:"location,omitempty"`

	Mode               *Mode    `json:"mode,omitempty"`
	ScheduleIntervalMs *int     `json:"schedule_interval_ms,omitempty"`
	Scorers            []string `json:"scorers,omitempty"`
	FrameWidth         *int     `json:"frame_width,omitempty"`
	FrameHeight        *int     `json:"frame_height,omitempty"`
	GatingDistance     *float64 `json:"gating_distance_px,omitempty"`
	FallAspectRatio    *float64 `json:"fall_aspect_ratio_threshold,omitempty"`
	RunningSpeed       *float64 `json:"running_speed_threshold,omitempty"`
	FireThreshold      *float64 `json:"fire_threshold,omitempty"`
	SmokeThreshold     *float64 `json:"smoke_threshold,omitempty"`
	CooldownSeconds    *int     `json:"cooldown_seconds,omitempty"`
}

// Effective is the merged configuration for one camera
// (camera overrides applied to global defaults)
type Effective struct {
	Config
	CameraID string
	Name     string
	Zone     string
	Location string
}

// MergeWithGlobal merges camera-specific overrides with the global config.
// The returned value owns its maps and slices.
func (c *CameraConfig) MergeWithGlobal(cameraID string, global *Config) *Effective {
	if global == nil {
		global = DefaultConfig()
	}

	base := global.Clone()
	base.Cameras = nil
	effective := &Effective{
		Config:   *base,
		CameraID: cameraID,
		Name:     cameraID,
		Zone:     "unknown_zone",
		Location: "Unknown Location",
	}

	if c == nil {
		return effective
	}

	if c.Name != "" {
		effective.Name = c.Name
	}
	if c.Zone != "" {
		effective.Zone = c.Zone
	}
	if c.Location != "" {
		effective.Location = c.Location
	}
	if c.Mode != nil {
		effective.Evaluation.Mode = *c.Mode
	}
	if c.ScheduleIntervalMs != nil {
		effective.Evaluation.ScheduleIntervalMs = *c.ScheduleIntervalMs
	}
	if len(c.Scorers) > 0 {
		effective.Scorers = append([]string(nil), c.Scorers...)
	}
	if c.FrameWidth != nil {
		effective.Frame.Width = *c.FrameWidth
	}
	if c.FrameHeight != nil {
		effective.Frame.Height = *c.FrameHeight
	}
	if c.GatingDistance != nil {
		effective.Tracker.GatingDistance = *c.GatingDistance
	}
	if c.FallAspectRatio != nil {
		effective.Fall.AspectRatioThreshold = *c.FallAspectRatio
	}
	if c.RunningSpeed != nil {
		effective.Running.SpeedThreshold = *c.RunningSpeed
	}
	if c.FireThreshold != nil {
		effective.FireSmoke.FireThreshold = *c.FireThreshold
	}
	if c.SmokeThreshold != nil {
		effective.FireSmoke.SmokeThreshold = *c.SmokeThreshold
	}
	if c.CooldownSeconds != nil {
		effective.Alert.CooldownSeconds = *c.CooldownSeconds
	}

	return effective
}

// ForCamera returns the effective config of a camera, applying its override
// entry when one exists
func (c *Config) ForCamera(cameraID string) *Effective {
	var override *CameraConfig
	if c != nil {
		override = c.Cameras[cameraID]
	}
	return override.MergeWithGlobal(cameraID, c)
}

// AlertsEnabled reports whether the camera may emit alerts
func (e *Effective) AlertsEnabled() bool {
	return e.Evaluation.Mode != ModeVisualOnly && e.Evaluation.Mode != ModeDisabled
}

func (c *CameraConfig) clone() *CameraConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Scorers = append([]string(nil), c.Scorers...)
	return &out
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrMode(v Mode) *Mode          { return &v }
