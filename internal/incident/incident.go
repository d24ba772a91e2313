package incident

import (
	"context"
	"fmt"

	"guardian/internal/pipeline"
)

// Sink delivers alerts to one external system
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Deliver sends one alert
	Deliver(ctx context.Context, alert *pipeline.AlertEvent) error

	// Close releases the sink's connections
	Close() error
}

// Incident is the payload accepted by the incident backend
type Incident struct {
	Type                  string        `json:"type"`
	Zone                  string        `json:"zone"`
	Location              string        `json:"location"`
	Severity              string        `json:"severity"`
	Confidence            float64       `json:"confidence"`
	Description           string        `json:"description"`
	VideoSnapshot         string        `json:"videoSnapshot"`
	BoundingBoxes         []BoundingBox `json:"boundingBoxes"`
	HumanApprovalRequired bool          `json:"humanApprovalRequired"`
}

// BoundingBox is a box in top-left/size form
type BoundingBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FromAlert builds the incident payload of an alert
func FromAlert(a *pipeline.AlertEvent) *Incident {
	boxes := make([]BoundingBox, 0, len(a.BoundingBoxes))
	for _, b := range a.BoundingBoxes {
		boxes = append(boxes, BoundingBox{
			X:          b.X1,
			Y:          b.Y1,
			Width:      b.Width(),
			Height:     b.Height(),
			Label:      string(a.EventType),
			Confidence: a.Confidence,
		})
	}

	return &Incident{
		Type:                  string(a.Category),
		Zone:                  a.Zone,
		Location:              a.Location,
		Severity:              string(a.Severity),
		Confidence:            a.Confidence,
		Description:           a.Description,
		VideoSnapshot:         fmt.Sprintf("camera_%s_%d", a.CameraID, a.Timestamp.Unix()),
		BoundingBoxes:         boxes,
		HumanApprovalRequired: a.RequiresApproval,
	}
}

// messageKey returns the partition key and topic suffix of an alert
func messageKey(a *pipeline.AlertEvent) string {
	return a.CameraID + "/" + string(a.EventType)
}
