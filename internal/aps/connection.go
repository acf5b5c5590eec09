package aps

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
)

// connState is the registration state of an AgentConnection.
type connState int

const (
	connUnregistered connState = iota
	connRegistered
)

// AgentConnection is one WebSocket-backed worker connection.
type AgentConnection struct {
	ID string // assigned by the server on accept

	conn *websocket.Conn
	send chan []byte

	mu              sync.RWMutex
	state           connState
	role            string
	currentTask     string
	connectedAt     time.Time
	lastHeartbeatAt time.Time
	metadata        map[string]string

	log *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newAgentConnection(id string, conn *websocket.Conn, outboundCap int, log *logger.Logger) *AgentConnection {
	now := time.Now().UTC()
	return &AgentConnection{
		ID:              id,
		conn:            conn,
		send:            make(chan []byte, outboundCap),
		state:           connUnregistered,
		connectedAt:     now,
		lastHeartbeatAt: now,
		metadata:        make(map[string]string),
		log:             log.WithFields(zap.String("conn_id", id)),
		closed:          make(chan struct{}),
	}
}

// IsRegistered reports whether agent.register has completed for this socket.
func (c *AgentConnection) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == connRegistered
}

func (c *AgentConnection) markRegistered(role string) {
	c.mu.Lock()
	c.state = connRegistered
	c.role = role
	c.mu.Unlock()
}

// Role returns the registered role, empty if not yet registered.
func (c *AgentConnection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *AgentConnection) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeatAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *AgentConnection) heartbeatAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastHeartbeatAt)
}

func (c *AgentConnection) setCurrentTask(taskID string) {
	c.mu.Lock()
	c.currentTask = taskID
	c.mu.Unlock()
}

func (c *AgentConnection) statusSnapshot() (state string, currentTask string, uptime int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := "registered"
	if c.state == connUnregistered {
		s = "unregistered"
	}
	return s, c.currentTask, int64(time.Since(c.connectedAt).Seconds())
}

// enqueue pushes a frame to the outbound channel, returning false (caller
// should treat as Backpressure) if the buffer is full.
func (c *AgentConnection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close terminates the socket exactly once.
func (c *AgentConnection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.send)
		_ = c.conn.Close()
	})
}

// writePump drains the outbound channel to the socket. Runs until send is
// closed.
func (c *AgentConnection) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Debug("write failed, closing connection", zap.Error(err))
			return
		}
	}
}

// readPump reads frames off the socket and dispatches them to handle.
// Runs until the socket errors or close() is called.
func (c *AgentConnection) readPump(handle func(raw []byte)) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var probe json.RawMessage
		if json.Unmarshal(data, &probe) != nil {
			continue
		}
		handle(data)
	}
}
