package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"guardian/internal/pipeline"
)

const sendBuffer = 32

// client is one websocket connection with its own writer goroutine
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// HistoryHub pushes detection history and alerts to websocket clients
type HistoryHub struct {
	// clients maps camera_id -> set of connections
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewHistoryHub creates a new history hub
func NewHistoryHub() *HistoryHub {
	return &HistoryHub{
		clients: make(map[string]map[*client]bool),
	}
}

// Register adds a connection for a specific camera
func (h *HistoryHub) Register(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*client]bool)
	}
	h.clients[cameraID][c] = true
	log.Printf("[WS] Client registered for camera %s (total: %d)", cameraID, len(h.clients[cameraID]))
}

// Unregister removes a connection for a specific camera
func (h *HistoryHub) Unregister(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[cameraID]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, cameraID)
		}
		c.close()
		log.Printf("[WS] Client unregistered for camera %s", cameraID)
	}
}

// HasClients returns true if there are any clients connected for a camera
func (h *HistoryHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[cameraID]
	return ok && len(conns) > 0
}

// Cameras returns the camera ids with at least one client
func (h *HistoryHub) Cameras() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cameras := make([]string, 0, len(h.clients))
	for cameraID := range h.clients {
		cameras = append(cameras, cameraID)
	}
	sort.Strings(cameras)
	return cameras
}

// BroadcastToCamera queues a message for every client of a camera.
// Clients whose queue is full miss the message.
func (h *HistoryHub) BroadcastToCamera(cameraID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[cameraID] {
		select {
		case c.send <- message:
		default:
			log.Printf("[WS] Client of camera %s is slow, message dropped", cameraID)
		}
	}
}

func (h *HistoryHub) broadcast(cameraID string, msg interface{}) {
	if !h.HasClients(cameraID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}
	h.BroadcastToCamera(cameraID, data)
}

// OnTickResult implements pipeline.ResultHandler
func (h *HistoryHub) OnTickResult(result *pipeline.TickResult) {
	if result == nil {
		return
	}
	h.broadcast(result.CameraID, NewHistoryMessage(result))
	for _, alert := range result.Alerts {
		h.broadcast(result.CameraID, NewAlertMessage(alert))
	}
}

// ClientCount returns the total number of connected clients
func (h *HistoryHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

var _ pipeline.ResultHandler = (*HistoryHub)(nil)
