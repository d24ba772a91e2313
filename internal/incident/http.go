package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guardian/internal/pipeline"
)

const incidentsPath = "/monitoring/incidents"

// HTTPSink creates incidents on the incident backend
type HTTPSink struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSink creates a sink posting to baseURL + /monitoring/incidents
func NewHTTPSink(baseURL string) (*HTTPSink, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("incident backend url is required")
	}
	return &HTTPSink{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *HTTPSink) Name() string { return "http" }

// Deliver posts the alert's incident. Only 201 Created counts as success.
func (s *HTTPSink) Deliver(ctx context.Context, alert *pipeline.AlertEvent) error {
	body, err := json.Marshal(FromAlert(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+incidentsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send incident: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("incident backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *HTTPSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
