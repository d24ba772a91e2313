package incident

import (
	"context"
	"fmt"

	"guardian/internal/database"
	"guardian/internal/pipeline"
)

// DatabaseSink records alerts in the SQLite alert log
type DatabaseSink struct {
	db *database.Database
}

// NewDatabaseSink creates a sink writing to db
func NewDatabaseSink(db *database.Database) *DatabaseSink {
	return &DatabaseSink{db: db}
}

func (s *DatabaseSink) Name() string { return "database" }

// Deliver saves the alert
func (s *DatabaseSink) Deliver(_ context.Context, alert *pipeline.AlertEvent) error {
	if err := s.db.SaveAlert(ToRecord(alert)); err != nil {
		return fmt.Errorf("failed to record alert %s: %w", alert.ID, err)
	}
	return nil
}

// Close does nothing; the database is owned by the caller
func (s *DatabaseSink) Close() error { return nil }

// ToRecord converts an alert into its database record
func ToRecord(a *pipeline.AlertEvent) *database.AlertRecord {
	boxes := make([]database.BoundingBoxRecord, 0, len(a.BoundingBoxes))
	for _, b := range a.BoundingBoxes {
		boxes = append(boxes, database.BoundingBoxRecord{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2})
	}
	return &database.AlertRecord{
		ID:               a.ID,
		CameraID:         a.CameraID,
		CameraName:       a.CameraName,
		Zone:             a.Zone,
		Location:         a.Location,
		EventType:        string(a.EventType),
		Category:         string(a.Category),
		Severity:         string(a.Severity),
		Confidence:       a.Confidence,
		RequiresApproval: a.RequiresApproval,
		Description:      a.Description,
		Timestamp:        a.Timestamp,
		BoundingBoxes:    boxes,
	}
}
