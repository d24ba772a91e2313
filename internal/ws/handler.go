package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"guardian/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HistorySource returns a camera's current history, false when the camera
// is not running
type HistorySource func(cameraID string) (pipeline.DetectionHistory, bool)

// Handler handles websocket connections for history streaming
type Handler struct {
	hub    *HistoryHub
	prefix string
	source HistorySource
}

// NewHandler creates a handler serving prefix + {camera_id}. source is
// optional; when set, unknown cameras are refused and new clients get the
// current history first.
func NewHandler(hub *HistoryHub, prefix string, source HistorySource) *Handler {
	return &Handler{hub: hub, prefix: prefix, source: source}
}

// ServeHTTP handles websocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := strings.Trim(strings.TrimPrefix(r.URL.Path, h.prefix), "/")
	if cameraID == "" || strings.Contains(cameraID, "/") {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	var snapshot pipeline.DetectionHistory
	if h.source != nil {
		history, ok := h.source(cameraID)
		if !ok {
			http.Error(w, "camera not running", http.StatusNotFound)
			return
		}
		snapshot = history
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	log.Printf("[WS] New connection for camera %s from %s", cameraID, r.RemoteAddr)

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if snapshot != nil {
		if data, err := json.Marshal(NewSnapshotMessage(cameraID, snapshot)); err == nil {
			c.send <- data
		}
	}
	h.hub.Register(cameraID, c)

	go h.writePump(c)
	go h.readPump(cameraID, c)
}

// writePump is the only goroutine writing to the connection
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Error sending to client: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump detects client disconnection
func (h *Handler) readPump(cameraID string, c *client) {
	defer func() {
		h.hub.Unregister(cameraID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error for camera %s: %v", cameraID, err)
			}
			return
		}
	}
}
