package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"guardian/internal/config"
	"guardian/internal/database"
	"guardian/internal/pipeline"
)

// AudioPayload is one out-of-band audio feature chunk
type AudioPayload struct {
	Features  pipeline.AudioFeatures `json:"features"`
	Timestamp time.Time              `json:"timestamp"`
}

// HistoryResult is a camera's latest detection history
type HistoryResult struct {
	CameraID  string                    `json:"camera_id"`
	Seq       uint64                    `json:"seq"`
	Timestamp *time.Time                `json:"timestamp,omitempty"`
	History   pipeline.DetectionHistory `json:"history"`
}

// CameraImplementation implements the camera service
type CameraImplementation struct {
	manager *pipeline.Manager
	db      *database.Database
	onStop  []func(cameraID string)
}

// NewCameraService creates a new camera service implementation. db is
// optional; with it started cameras are resumed after a restart.
func NewCameraService(manager *pipeline.Manager, db *database.Database) *CameraImplementation {
	return &CameraImplementation{
		manager: manager,
		db:      db,
	}
}

// List returns the running camera pipelines with their stats
func (c *CameraImplementation) List(ctx context.Context) ([]*pipeline.PipelineStats, error) {
	return c.manager.Stats(), nil
}

// Start starts a camera's pipeline
func (c *CameraImplementation) Start(ctx context.Context, cameraID string) (*pipeline.PipelineStats, error) {
	if c.manager.IsRunning(cameraID) {
		return nil, &BadRequestError{Message: "Camera already running"}
	}
	if err := c.manager.StartCamera(cameraID); err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			return nil, badRequest("Invalid camera configuration", err)
		}
		if errors.Is(err, pipeline.ErrManagerClosed) {
			return nil, &UnavailableError{Message: "pipeline manager closed"}
		}
		return nil, err
	}

	c.record(cameraID, database.CameraRunning)
	return c.manager.GetStats(cameraID), nil
}

// Stop stops a camera's pipeline, discarding its state
func (c *CameraImplementation) Stop(ctx context.Context, cameraID string) error {
	if err := c.manager.StopCamera(cameraID); err != nil {
		if errors.Is(err, pipeline.ErrCameraNotRunning) {
			return &NotFoundError{Message: "Camera not running", ID: cameraID}
		}
		return err
	}
	c.record(cameraID, database.CameraStopped)
	for _, fn := range c.onStop {
		fn(cameraID)
	}
	return nil
}

// OnStop registers fn to run after a camera was stopped through the service
func (c *CameraImplementation) OnStop(fn func(cameraID string)) {
	c.onStop = append(c.onStop, fn)
}

// Ingest queues one tick for a running camera
func (c *CameraImplementation) Ingest(ctx context.Context, cameraID string, tick *pipeline.TickInput) error {
	if tick == nil {
		return &BadRequestError{Message: "missing tick"}
	}
	if tick.CameraID == "" {
		tick.CameraID = cameraID
	}
	if tick.CameraID != cameraID {
		return &BadRequestError{Message: fmt.Sprintf("tick camera_id %q does not match %q", tick.CameraID, cameraID)}
	}
	if err := c.manager.Ingest(tick); err != nil {
		if errors.Is(err, pipeline.ErrCameraNotRunning) {
			return &NotFoundError{Message: "Camera not running", ID: cameraID}
		}
		return err
	}
	return nil
}

// IngestAudio queues one audio feature chunk for a running camera
func (c *CameraImplementation) IngestAudio(ctx context.Context, cameraID string, payload *AudioPayload) error {
	if payload == nil {
		return &BadRequestError{Message: "missing audio features"}
	}
	err := c.manager.IngestAudio(cameraID, payload.Features, payload.Timestamp)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrCameraNotRunning):
		return &NotFoundError{Message: "Camera not running", ID: cameraID}
	case errors.Is(err, pipeline.ErrAudioDisabled):
		return badRequest("Audio not accepted", err)
	}
	return err
}

// History returns a camera's latest detection history
func (c *CameraImplementation) History(ctx context.Context, cameraID string) (*HistoryResult, error) {
	history, ok := c.manager.History(cameraID)
	if !ok {
		return nil, &NotFoundError{Message: "Camera not running", ID: cameraID}
	}
	res := &HistoryResult{CameraID: cameraID, History: history}
	if last := c.manager.LastResult(cameraID); last != nil {
		ts := last.Timestamp
		res.Seq = last.Seq
		res.Timestamp = &ts
	}
	return res, nil
}

// SiteHistory returns the combined view across running cameras
func (c *CameraImplementation) SiteHistory(ctx context.Context) (pipeline.SiteHistory, error) {
	return c.manager.SiteHistory(), nil
}

// Resume starts every camera recorded as running. Cameras that fail to
// start are logged and skipped.
func (c *CameraImplementation) Resume(ctx context.Context) int {
	if c.db == nil {
		return 0
	}
	records, err := c.db.ListCameras(database.CameraRunning)
	if err != nil {
		log.Printf("[Camera] Failed to list cameras to resume: %v", err)
		return 0
	}

	started := 0
	for _, rec := range records {
		if err := c.manager.StartCamera(rec.ID); err != nil {
			log.Printf("[Camera] Failed to resume camera %s: %v", rec.ID, err)
			continue
		}
		started++
	}
	return started
}

func (c *CameraImplementation) record(cameraID, status string) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveCamera(cameraID, status); err != nil {
		log.Printf("[Camera] Failed to record camera %s as %s: %v", cameraID, status, err)
	}
}
