package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian/internal/event"
	"guardian/internal/pipeline"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_SendsSnapshotThenHistory(t *testing.T) {
	hub := NewHistoryHub()
	source := func(cameraID string) (pipeline.DetectionHistory, bool) {
		return pipeline.NewDetectionHistory(), cameraID == "cam-1"
	}
	srv := httptest.NewServer(NewHandler(hub, "/ws/history/", source))
	defer srv.Close()

	conn := dial(t, srv, "/ws/history/cam-1")
	snapshot := readJSON(t, conn)
	assert.Equal(t, TypeHistory, snapshot["type"])
	assert.Equal(t, "cam-1", snapshot["camera_id"])

	require.Eventually(t, func() bool { return hub.HasClients("cam-1") }, time.Second, 10*time.Millisecond)

	history := pipeline.NewDetectionHistory()
	history[event.Fallen] = pipeline.EventState{Confidence: 0.9, Status: event.StatusDetected}
	hub.OnTickResult(&pipeline.TickResult{
		CameraID:  "cam-1",
		Seq:       7,
		Evaluated: true,
		History:   history,
		Alerts: []*pipeline.AlertEvent{{
			CameraID:   "cam-1",
			EventType:  event.Fallen,
			Confidence: 0.9,
		}},
	})
	// Other cameras are not delivered to this client
	hub.OnTickResult(&pipeline.TickResult{CameraID: "cam-2", Seq: 8})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeHistory, msg["type"])
	assert.EqualValues(t, 7, msg["seq"])
	fallen := msg["history"].(map[string]interface{})[string(event.Fallen)].(map[string]interface{})
	assert.InDelta(t, 0.9, fallen["confidence"], 1e-9)

	alert := readJSON(t, conn)
	assert.Equal(t, TypeAlert, alert["type"])
	assert.Equal(t, "cam-1", alert["camera_id"])
}

func TestHandler_RejectsUnknownCamera(t *testing.T) {
	hub := NewHistoryHub()
	source := func(string) (pipeline.DetectionHistory, bool) { return nil, false }
	srv := httptest.NewServer(NewHandler(hub, "/ws/history/", source))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/history/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/history/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub := NewHistoryHub()
	srv := httptest.NewServer(NewHandler(hub, "/ws/history/", nil))
	defer srv.Close()

	conn := dial(t, srv, "/ws/history/cam-1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"cam-1"}, hub.Cameras())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.HasClients("cam-1"))
}
