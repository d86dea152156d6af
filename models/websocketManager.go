package models

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketManager fans job events out to connected WebSocket clients. All
// writes to client connections happen on the Run goroutine.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(logger *zap.Logger) *WebSocketManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client connection.
func (wsm *WebSocketManager) Run(ctx context.Context) {
	defer close(wsm.done)
	for {
		select {
		case <-ctx.Done():
			wsm.mu.Lock()
			for client := range wsm.clients {
				client.Close()
				delete(wsm.clients, client)
			}
			wsm.mu.Unlock()
			return
		case client := <-wsm.register:
			wsm.mu.Lock()
			wsm.clients[client] = true
			n := len(wsm.clients)
			wsm.mu.Unlock()
			wsm.logger.Debug("websocket client connected", zap.Int("clients", n))
		case client := <-wsm.unregister:
			wsm.mu.Lock()
			if _, ok := wsm.clients[client]; ok {
				delete(wsm.clients, client)
				client.Close()
			}
			n := len(wsm.clients)
			wsm.mu.Unlock()
			wsm.logger.Debug("websocket client disconnected", zap.Int("clients", n))
		case message := <-wsm.broadcast:
			wsm.mu.Lock()
			for client := range wsm.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					wsm.logger.Debug("dropping websocket client", zap.Error(err))
					client.Close()
					delete(wsm.clients, client)
				}
			}
			wsm.mu.Unlock()
		}
	}
}

// BroadcastJobEvent queues an event for every connected client. Events are
// dropped rather than blocking the caller when the manager falls behind.
func (wsm *WebSocketManager) BroadcastJobEvent(event JobEvent) {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		JobEvent
	}{Type: "job_update", JobEvent: event})
	if err != nil {
		wsm.logger.Error("failed to marshal job event", zap.Error(err))
		return
	}

	select {
	case wsm.broadcast <- data:
	case <-wsm.done:
	default:
		wsm.logger.Warn("websocket broadcast buffer full, dropping event", zap.String("job_id", event.JobID))
	}
}

// RegisterClient registers a new WebSocket client
func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	select {
	case wsm.register <- conn:
	case <-wsm.done:
		conn.Close()
	}
}

// UnregisterClient unregisters a WebSocket client
func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	select {
	case wsm.unregister <- conn:
	case <-wsm.done:
	}
}

// ClientCount returns the number of connected clients
func (wsm *WebSocketManager) ClientCount() int {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	return len(wsm.clients)
}
