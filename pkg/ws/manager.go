package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/netra-ai/netra/pkg/ident"
)

// Notifier delivers outbound events to connected clients. Implemented by
// ConnectionManager; faked in handler tests.
type Notifier interface {
	NotifyConnection(connID string, event OutboundEvent)
	NotifyUser(userID string, event OutboundEvent)
	AssociateThread(c *Connection, threadID string)
}

// MessageFunc processes one inbound frame and reports whether it succeeded.
type MessageFunc func(ctx context.Context, conn *Connection, msg *InboundMessage) bool

// ConnectionManager tracks WebSocket connections per user and per thread.
// Each process has one instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Thread associations: thread_id → set of connection_ids
	threads  map[string]map[string]bool
	threadMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection is one WebSocket client bound to one authenticated user.
//
// threadIDs is accessed without a lock. All reads and writes happen on the
// single goroutine that owns this connection (HandleConnection's read loop
// and its deferred cleanup); mutation from any other goroutine would require
// a mutex here.
type Connection struct {
	ID       string
	ClientID string
	UserID   string
	Conn     *websocket.Conn

	threadIDs map[string]bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewConnectionManager creates a connection manager with the given write
// timeout per send.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		threads:      make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one connection for an already
// authenticated user. Called by the HTTP handler after upgrade; blocks until
// the connection closes. Every frame is dispatched to onMessage on this
// goroutine, so per-connection processing is strictly ordered.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string, onMessage MessageFunc) {
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:        ident.GenerateWebSocketConnectionID(userID),
		ClientID:  ident.GenerateWebSocketClientID(userID),
		UserID:    userID,
		Conn:      conn,
		threadIDs: make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, OutboundEvent{
		Type:         EventConnectionEstablished,
		ConnectionID: c.ID,
		Timestamp:    time.Now().UTC(),
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or errored.
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket frame",
				"connection_id", c.ID, "user_id", userID, "error", err)
			m.sendJSON(c, OutboundEvent{
				Type:      EventError,
				Code:      "invalid_payload",
				Message:   "frame is not valid JSON",
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		if msg.Type == TypePing {
			m.sendJSON(c, OutboundEvent{Type: EventPong, Timestamp: time.Now().UTC()})
			continue
		}

		if onMessage != nil {
			onMessage(ctx, c, &msg)
		}
	}
}

// AssociateThread records that a connection is following a thread, so later
// events for that thread reach it.
func (m *ConnectionManager) AssociateThread(c *Connection, threadID string) {
	if threadID == "" {
		return
	}
	m.threadMu.Lock()
	if _, exists := m.threads[threadID]; !exists {
		m.threads[threadID] = make(map[string]bool)
	}
	m.threads[threadID][c.ID] = true
	m.threadMu.Unlock()

	c.threadIDs[threadID] = true
}

// NotifyConnection sends an event to one connection. Best effort: a dead or
// unknown connection is logged, never an error for the caller.
func (m *ConnectionManager) NotifyConnection(connID string, event OutboundEvent) {
	m.mu.RLock()
	c, ok := m.connections[connID]
	m.mu.RUnlock()
	if !ok {
		slog.Debug("Dropping event for unknown connection", "connection_id", connID)
		return
	}
	m.sendJSON(c, event)
}

// NotifyUser sends an event to every connection of a user.
func (m *ConnectionManager) NotifyUser(userID string, event OutboundEvent) {
	for _, c := range m.connectionsForUser(userID) {
		m.sendJSON(c, event)
	}
}

// NotifyThread sends an event to every connection following a thread.
func (m *ConnectionManager) NotifyThread(threadID string, event OutboundEvent) {
	m.threadMu.RLock()
	connIDs, exists := m.threads[threadID]
	if !exists {
		m.threadMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.threadMu.RUnlock()

	// Snapshot pointers, then send without holding mu: sends may block up to
	// writeTimeout each and must not stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.sendJSON(c, event)
	}
}

// ActiveConnections returns the count of live connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) connectionsForUser(userID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var conns []*Connection
	for _, c := range m.connections {
		if c.UserID == userID {
			conns = append(conns, c)
		}
	}
	return conns
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	slog.Info("WebSocket connected",
		"connection_id", c.ID, "user_id", c.UserID)
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.threadMu.Lock()
	for threadID := range c.threadIDs {
		if subs, exists := m.threads[threadID]; exists {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(m.threads, threadID)
			}
		}
	}
	m.threadMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("WebSocket disconnected",
		"connection_id", c.ID, "user_id", c.UserID)
}

// sendJSON marshals and sends one event with the configured write timeout.
func (m *ConnectionManager) sendJSON(c *Connection, event OutboundEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket event",
			"connection_id", c.ID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket event",
			"connection_id", c.ID, "error", err)
	}
}
