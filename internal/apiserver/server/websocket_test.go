package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/apiserver/auth"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startGateway(t *testing.T, bus *eventbus.MemoryEventBus, runs map[string]*model.Run) *httptest.Server {
	t.Helper()
	h := newTestHandler(t, &stubRunService{runs: runs}, bus, auth.Config{})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readEvent(t *testing.T, conn *websocket.Conn) eventbus.RunEvent {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, "event", msg.Type)
	var ev eventbus.RunEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	return ev
}

func TestEventGateway_ReplayThenStream(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryEventBus()
	require.NoError(t, bus.PublishRunEvent(ctx, "r1", &eventbus.RunEvent{Type: eventbus.EventRunQueued}))
	require.NoError(t, bus.PublishRunEvent(ctx, "r1", &eventbus.RunEvent{Type: eventbus.EventRunStarted}))

	srv := startGateway(t, bus, map[string]*model.Run{"r1": {ID: "r1", Status: model.RunStatusRunning}})
	conn := dial(t, srv, "/ws/runs/r1/events")

	assert.Equal(t, eventbus.EventRunQueued, readEvent(t, conn).Type)
	assert.Equal(t, eventbus.EventRunStarted, readEvent(t, conn).Type)

	require.NoError(t, bus.PublishRunEvent(ctx, "r1", &eventbus.RunEvent{
		Type:    eventbus.EventRunCompleted,
		Payload: map[string]interface{}{"success": true},
	}))

	final := readEvent(t, conn)
	assert.Equal(t, eventbus.EventRunCompleted, final.Type)
	assert.Equal(t, 3, final.Seq)

	status := readMessage(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Data), `"completed"`)

	// 终止后服务端关闭连接
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestEventGateway_FromSeq(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryEventBus()
	for _, typ := range []string{eventbus.EventRunQueued, eventbus.EventRunStarted, eventbus.EventRunTurn} {
		require.NoError(t, bus.PublishRunEvent(ctx, "r1", &eventbus.RunEvent{Type: typ}))
	}

	srv := startGateway(t, bus, map[string]*model.Run{"r1": {ID: "r1", Status: model.RunStatusRunning}})
	conn := dial(t, srv, "/ws/runs/r1/events?from_seq=2")

	ev := readEvent(t, conn)
	assert.Equal(t, 3, ev.Seq)
	assert.Equal(t, eventbus.EventRunTurn, ev.Type)
}

func TestEventGateway_ErrorEventStatus(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryEventBus()
	require.NoError(t, bus.PublishRunEvent(ctx, "r1", &eventbus.RunEvent{Type: eventbus.EventRunError}))

	srv := startGateway(t, bus, map[string]*model.Run{"r1": {ID: "r1", Status: model.RunStatusError}})
	conn := dial(t, srv, "/ws/runs/r1/events")

	assert.Equal(t, eventbus.EventRunError, readEvent(t, conn).Type)
	status := readMessage(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Data), `"error"`)
}

func TestEventGateway_TerminalRunWithoutHistory(t *testing.T) {
	srv := startGateway(t, eventbus.NewMemoryEventBus(), map[string]*model.Run{"r1": {ID: "r1", Status: model.RunStatusCompleted}})
	conn := dial(t, srv, "/ws/runs/r1/events")

	status := readMessage(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Data), `"completed"`)
}

func TestEventGateway_Ping(t *testing.T) {
	srv := startGateway(t, eventbus.NewMemoryEventBus(), map[string]*model.Run{"r1": {ID: "r1", Status: model.RunStatusQueued}})
	conn := dial(t, srv, "/ws/runs/r1/events")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestEventGateway_RunNotFound(t *testing.T) {
	srv := startGateway(t, eventbus.NewMemoryEventBus(), map[string]*model.Run{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
