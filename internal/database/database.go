package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord is a camera whose pipeline was started through the API
type CameraRecord struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

// Camera statuses
const (
	CameraRunning = "running"
	CameraStopped = "stopped"
)

// AlertRecord represents an emitted alert stored in the database
type AlertRecord struct {
	ID               string              `json:"id"`
	CameraID         string              `json:"camera_id"`
	CameraName       string              `json:"camera_name"`
	Zone             string              `json:"zone"`
	Location         string              `json:"location"`
	EventType        string              `json:"event_type"`
	Category         string              `json:"category"`
	Severity         string              `json:"severity"`
	Confidence       float64             `json:"confidence"`
	RequiresApproval bool                `json:"requires_approval"`
	Description      string              `json:"description"`
	Timestamp        time.Time           `json:"timestamp"`
	BoundingBoxes    []BoundingBoxRecord `json:"bounding_boxes"`
}

// BoundingBoxRecord represents a bounding box in pixel corners
type BoundingBoxRecord struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Database{db: db}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			camera_name TEXT,
			zone TEXT,
			location TEXT,
			event_type TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence REAL,
			requires_approval INTEGER DEFAULT 0,
			description TEXT,
			timestamp DATETIME NOT NULL,
			bounding_boxes TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_camera_time ON alert_events(camera_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alert_events(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed successfully")
	return nil
}

// SaveCamera records a camera's pipeline status
func (d *Database) SaveCamera(id, status string) error {
	query := `INSERT INTO cameras (id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`

	_, err := d.db.Exec(query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// ListCameras returns recorded cameras, optionally filtered by status
func (d *Database) ListCameras(status string) ([]*CameraRecord, error) {
	query := "SELECT id, status, updated_at FROM cameras"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id"

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		var cam CameraRecord
		if err := rows.Scan(&cam.ID, &cam.Status, &cam.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera removes a camera record
func (d *Database) DeleteCamera(id string) error {
	_, err := d.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// SaveAlert saves an alert. Saving an existing id is a no-op.
func (d *Database) SaveAlert(alert *AlertRecord) error {
	bboxJSON, err := json.Marshal(alert.BoundingBoxes)
	if err != nil {
		return fmt.Errorf("failed to marshal bounding boxes: %w", err)
	}

	requiresApproval := 0
	if alert.RequiresApproval {
		requiresApproval = 1
	}

	query := `INSERT INTO alert_events
		(id, camera_id, camera_name, zone, location, event_type, category, severity,
		 confidence, requires_approval, description, timestamp, bounding_boxes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err = d.db.Exec(query, alert.ID, alert.CameraID, alert.CameraName, alert.Zone, alert.Location,
		alert.EventType, alert.Category, alert.Severity, alert.Confidence, requiresApproval,
		alert.Description, alert.Timestamp.UTC(), string(bboxJSON))
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

const alertColumns = `id, camera_id, camera_name, zone, location, event_type, category, severity,
	confidence, requires_approval, description, timestamp, bounding_boxes`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*AlertRecord, error) {
	var alert AlertRecord
	var bboxJSON sql.NullString
	var requiresApproval int

	if err := row.Scan(&alert.ID, &alert.CameraID, &alert.CameraName, &alert.Zone, &alert.Location,
		&alert.EventType, &alert.Category, &alert.Severity, &alert.Confidence, &requiresApproval,
		&alert.Description, &alert.Timestamp, &bboxJSON); err != nil {
		return nil, err
	}

	alert.RequiresApproval = requiresApproval == 1
	if bboxJSON.Valid && bboxJSON.String != "" {
		if err := json.Unmarshal([]byte(bboxJSON.String), &alert.BoundingBoxes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounding boxes: %w", err)
		}
	}
	return &alert, nil
}

// GetAlert retrieves an alert by ID. Returns nil when it does not exist.
func (d *Database) GetAlert(id string) (*AlertRecord, error) {
	row := d.db.QueryRow("SELECT "+alertColumns+" FROM alert_events WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first with optional filtering
func (d *Database) ListAlerts(cameraID string, since *time.Time, limit int) ([]*AlertRecord, error) {
	query := "SELECT " + alertColumns + " FROM alert_events WHERE 1=1"
	args := []interface{}{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*AlertRecord{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// DeleteOldAlerts deletes alerts older than the specified time
func (d *Database) DeleteOldAlerts(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM alert_events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value. A missing key returns "".
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	_, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
