package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21Micheal/netsec/internal/eventbus"
)

func mustUUID(t *testing.T, raw string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(raw)
	require.NoError(t, err)
	return id
}

func dialWS(t *testing.T, f *apiFixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) eventbus.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event eventbus.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketLiveUpdates(t *testing.T) {
	f := newAPIFixture(t)
	jobID := f.createScan(t, "10.1.2.3")

	conn := dialWS(t, f)

	event := readEvent(t, conn)
	assert.Equal(t, eventbus.EventConnected, event.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": jobID}))

	// Snapshot of the current state arrives before any live event.
	event = readEvent(t, conn)
	assert.Equal(t, eventbus.EventScanUpdate, event.Type)
	assert.Equal(t, jobID, event.JobID.String())
	assert.Equal(t, 0, event.Progress)

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+jobID+"/progress", map[string]interface{}{
		"progress": 42,
		"line":     "enumerating services",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event = readEvent(t, conn)
	assert.Equal(t, eventbus.EventScanUpdate, event.Type)
	assert.Equal(t, 42, event.Progress)

	event = readEvent(t, conn)
	assert.Equal(t, eventbus.EventScanLog, event.Type)
	assert.Equal(t, "enumerating services", event.Line)
}

func TestWebSocketControlMessages(t *testing.T) {
	f := newAPIFixture(t)
	conn := dialWS(t, f)
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	event := readEvent(t, conn)
	assert.Equal(t, eventbus.EventPong, event.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": "garbage"}))
	event = readEvent(t, conn)
	assert.Equal(t, eventbus.EventError, event.Type)
	assert.Equal(t, "invalid job id", event.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "warp"}))
	event = readEvent(t, conn)
	assert.Equal(t, eventbus.EventError, event.Type)
	assert.Contains(t, event.Error, "unknown action")
}

func TestWebSocketUnsubscribeStopsUpdates(t *testing.T) {
	f := newAPIFixture(t)
	jobID := f.createScan(t, "10.1.2.3")

	conn := dialWS(t, f)
	readEvent(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": jobID}))
	readEvent(t, conn) // snapshot

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "job_id": jobID}))

	// Give the server a moment to process before mutating the job.
	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount(mustUUID(t, jobID)) == 0
	}, time.Second, 10*time.Millisecond)

	resp, _ := f.do(t, http.MethodPost, "/api/scans/"+jobID+"/progress", map[string]interface{}{"progress": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var event eventbus.Event
	err := conn.ReadJSON(&event)
	assert.Error(t, err, "no events should arrive after unsubscribe")
}
