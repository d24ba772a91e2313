package services

import (
	"context"
	"time"

	"guardian/internal/database"
	"guardian/internal/pipeline"
)

// HealthStatus is the liveness response
type HealthStatus struct {
	Status        string  `json:"status"`
	Cameras       int     `json:"cameras"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthImplementation implements the health service
type HealthImplementation struct {
	manager   *pipeline.Manager
	db        *database.Database
	startTime time.Time
}

// NewHealthService creates a new health service implementation. db is
// optional.
func NewHealthService(manager *pipeline.Manager, db *database.Database) *HealthImplementation {
	return &HealthImplementation{
		manager:   manager,
		db:        db,
		startTime: time.Now(),
	}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{
		Status:        "ok",
		Cameras:       len(h.manager.Cameras()),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}, nil
}

// Readyz implements the readiness probe
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	if h.manager.Closed() {
		return &UnavailableError{Message: "pipeline manager closed"}
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			return &UnavailableError{Message: "database unreachable: " + err.Error()}
		}
	}
	return nil
}
