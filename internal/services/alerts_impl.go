package services

import (
	"context"
	"time"

	"guardian/internal/database"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// AlertsPayload filters the alert log
type AlertsPayload struct {
	CameraID string
	Since    *time.Time
	Limit    int
}

// AlertsImplementation implements the alert log service
type AlertsImplementation struct {
	db *database.Database
}

// NewAlertsService creates a new alerts service implementation
func NewAlertsService(db *database.Database) *AlertsImplementation {
	return &AlertsImplementation{db: db}
}

// List returns logged alerts, newest first
func (a *AlertsImplementation) List(ctx context.Context, p *AlertsPayload) ([]*database.AlertRecord, error) {
	if a.db == nil {
		return nil, &UnavailableError{Message: "alert log not configured"}
	}
	if p == nil {
		p = &AlertsPayload{}
	}

	limit := p.Limit
	switch {
	case limit <= 0:
		limit = defaultAlertLimit
	case limit > maxAlertLimit:
		limit = maxAlertLimit
	}

	alerts, err := a.db.ListAlerts(p.CameraID, p.Since, limit)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// Get returns a single logged alert
func (a *AlertsImplementation) Get(ctx context.Context, id string) (*database.AlertRecord, error) {
	if a.db == nil {
		return nil, &UnavailableError{Message: "alert log not configured"}
	}
	alert, err := a.db.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, &NotFoundError{Message: "Alert not found", ID: id}
	}
	return alert, nil
}
