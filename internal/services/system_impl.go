package services

import (
	"context"
	"runtime"
	"time"

	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// AlertDispatcher is the part of the alert dispatcher reported in the
// system status
type AlertDispatcher interface {
	Sinks() []string
	Dropped() uint64
}

// ClientCounter counts connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// SystemStatus is the overall service status
type SystemStatus struct {
	Version          string                    `json:"version"`
	Profile          config.Profile            `json:"profile"`
	UptimeSeconds    float64                   `json:"uptime_seconds"`
	Goroutines       int                       `json:"goroutines"`
	Cameras          []*pipeline.PipelineStats `json:"cameras"`
	AlertSinks       []string                  `json:"alert_sinks"`
	AlertsDropped    uint64                    `json:"alerts_dropped"`
	WebsocketClients int                       `json:"websocket_clients"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	version    string
	store      *config.Store
	manager    *pipeline.Manager
	dispatcher AlertDispatcher
	clients    ClientCounter
	startTime  time.Time
}

// NewSystemService creates a new system service implementation
func NewSystemService(version string, store *config.Store, manager *pipeline.Manager) *SystemImplementation {
	return &SystemImplementation{
		version:   version,
		store:     store,
		manager:   manager,
		startTime: time.Now(),
	}
}

// SetDispatcher reports the alert dispatcher in the status
func (s *SystemImplementation) SetDispatcher(d AlertDispatcher) {
	s.dispatcher = d
}

// SetClientCounter reports websocket clients in the status
func (s *SystemImplementation) SetClientCounter(c ClientCounter) {
	s.clients = c
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		Version:       s.version,
		Profile:       s.store.Current().Profile,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Cameras:       s.manager.Stats(),
		AlertSinks:    []string{},
	}
	if s.dispatcher != nil {
		status.AlertSinks = s.dispatcher.Sinks()
		status.AlertsDropped = s.dispatcher.Dropped()
	}
	if s.clients != nil {
		status.WebsocketClients = s.clients.ClientCount()
	}
	return status, nil
}
