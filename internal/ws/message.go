package ws

import (
	"time"

	"guardian/internal/pipeline"
)

// Message types
const (
	TypeHistory = "history"
	TypeAlert   = "alert"
)

// HistoryMessage carries a camera's detection history after one tick
type HistoryMessage struct {
	Type      string                    `json:"type"` // "history"
	CameraID  string                    `json:"camera_id"`
	Seq       uint64                    `json:"seq"`
	Timestamp time.Time                 `json:"timestamp"`
	Evaluated bool                      `json:"evaluated"`
	History   pipeline.DetectionHistory `json:"history"`
	Scores    []pipeline.ModalityScore  `json:"scores,omitempty"`
	Warnings  []string                  `json:"warnings,omitempty"`
}

// AlertMessage carries one emitted alert
type AlertMessage struct {
	Type     string               `json:"type"` // "alert"
	CameraID string               `json:"camera_id"`
	Alert    *pipeline.AlertEvent `json:"alert"`
}

// NewHistoryMessage creates a history message from a tick result
func NewHistoryMessage(result *pipeline.TickResult) *HistoryMessage {
	return &HistoryMessage{
		Type:      TypeHistory,
		CameraID:  result.CameraID,
		Seq:       result.Seq,
		Timestamp: result.Timestamp,
		Evaluated: result.Evaluated,
		History:   result.History,
		Scores:    result.Scores,
		Warnings:  result.Warnings,
	}
}

// NewSnapshotMessage creates a history message for a newly connected client
func NewSnapshotMessage(cameraID string, history pipeline.DetectionHistory) *HistoryMessage {
	return &HistoryMessage{
		Type:      TypeHistory,
		CameraID:  cameraID,
		Timestamp: time.Now(),
		History:   history,
	}
}

// NewAlertMessage creates an alert message
func NewAlertMessage(alert *pipeline.AlertEvent) *AlertMessage {
	return &AlertMessage{
		Type:     TypeAlert,
		CameraID: alert.CameraID,
		Alert:    alert,
	}
}
