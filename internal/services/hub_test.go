package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-service/internal/logging"
	"alert-service/internal/models"
)

func TestHub_PublishReachesClientConnections(t *testing.T) {
	hub := NewHub(logging.NewNop())
	clientID := uuid.New()
	registered := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.AddConnection(clientID, conn)
		close(registered)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not registered")
	}
	assert.Equal(t, 1, hub.Connections(clientID))

	sessionID := uuid.New()
	hub.Publish(uuid.New(), SessionUpdate{Type: "session"})
	hub.Publish(clientID, SessionUpdate{Type: "session", DeviceName: "Washroom 1", Session: models.Session{ID: sessionID, Status: models.SessionActive}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), sessionID.String())
	assert.Contains(t, string(msg), `"device_name":"Washroom 1"`)
	assert.Contains(t, string(msg), `"status":"ACTIVE"`)
}

func TestHub_LimitsConnectionsPerClient(t *testing.T) {
	hub := NewHub(logging.NewNop())
	clientID := uuid.New()
	for i := 0; i < maxConnectionsPerClient; i++ {
		assert.True(t, hub.AddConnection(clientID, &websocket.Conn{}))
	}
	assert.False(t, hub.AddConnection(clientID, &websocket.Conn{}))
	assert.Equal(t, maxConnectionsPerClient, hub.Connections(clientID))
}

func TestHub_PublishDropsStalledConnection(t *testing.T) {
	hub := NewHub(logging.NewNop())
	hub.writeWait = 200 * time.Millisecond
	clientID := uuid.New()
	registered := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.AddConnection(clientID, conn)
		close(registered)
	}))
	defer srv.Close()

	// the dashboard never reads
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not registered")
	}

	update := SessionUpdate{Type: "session", DeviceName: strings.Repeat("x", 64<<20)}
	done := make(chan struct{})
	go func() {
		hub.Publish(clientID, update)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publish blocked on a stalled connection")
	}
	assert.Equal(t, 0, hub.Connections(clientID))
}
