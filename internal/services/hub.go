package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"alert-service/internal/logging"
)

const (
	maxConnectionsPerClient = 10
	writeWait               = 10 * time.Second
)

// Hub tracks dashboard WebSocket connections per client and fans session
// updates out to them.
type Hub struct {
	connections map[uuid.UUID]map[*websocket.Conn]bool
	mutex       sync.Mutex
	writeWait   time.Duration
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]map[*websocket.Conn]bool),
		writeWait:   writeWait,
		logger:      logger,
	}
}

// AddConnection registers conn for clientID. It reports false when the
// client already has the maximum number of connections.
func (h *Hub) AddConnection(clientID uuid.UUID, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[clientID]; !exists {
		h.connections[clientID] = make(map[*websocket.Conn]bool)
	}
	if len(h.connections[clientID]) >= maxConnectionsPerClient {
		h.logger.Warnf("Max connections reached for client %s", clientID)
		return false
	}
	h.connections[clientID][conn] = true
	h.logger.Infof("Added WebSocket connection for client %s (total: %d)", clientID, len(h.connections[clientID]))
	return true
}

func (h *Hub) RemoveConnection(clientID uuid.UUID, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[clientID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, clientID)
		}
		h.logger.Infof("Removed WebSocket connection for client %s (remaining: %d)", clientID, len(conns))
	}
}

// Connections returns the number of open connections for clientID.
func (h *Hub) Connections(clientID uuid.UUID) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[clientID])
}

// Publish sends payload as JSON to every connection of clientID. Connections
// that fail to accept the write within writeWait are dropped.
func (h *Hub) Publish(clientID uuid.UUID, payload any) {
	message, err := json.Marshal(payload)
	if err != nil {
		h.logger.Errorf("Failed to encode live update for client %s: %v", clientID, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[clientID]; exists {
		for conn := range conns {
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Errorf("Failed to send WebSocket message to client %s: %v", clientID, err)
				_ = conn.Close()
				delete(conns, conn)
			}
		}
		if len(conns) == 0 {
			delete(h.connections, clientID)
		}
	}
}
