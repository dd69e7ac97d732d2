package connections

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// Client is one registered socket. Writes are serialized so the ping loop
// and the answer stream can share the connection.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	timeouts  TimeoutConfig
	writeMu   sync.Mutex
}

// SessionID is the conversation the socket belongs to
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn exposes the underlying connection for reads
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// WriteJSON sends one frame within the write deadline
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Ping sends a ping control frame
func (c *Client) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.timeouts.WriteWait))
}

// KeepAlive arms the pong handler and pings until done is closed or a
// ping fails
func (c *Client) KeepAlive(done <-chan struct{}) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timeouts.PongWait))
	})

	go func() {
		ticker := time.NewTicker(c.timeouts.PingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

// Manager handles WebSocket connection lifecycle
type Manager struct {
	connections sync.Map
	mu          sync.RWMutex
	timeouts    TimeoutConfig
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// AddConnection registers a new WebSocket connection
func (m *Manager) AddConnection(conn *websocket.Conn, sessionID string) *Client {
	c := &Client{conn: conn, sessionID: sessionID, timeouts: m.GetTimeouts()}
	m.connections.Store(c, struct{}{})
	return c
}

// RemoveConnection removes a WebSocket connection
func (m *Manager) RemoveConnection(c *Client) {
	m.connections.Delete(c)
}

// GetConnectionCount returns the current number of active connections
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// HasConnection checks if a specific connection exists
func (m *Manager) HasConnection(c *Client) bool {
	_, exists := m.connections.Load(c)
	return exists
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeouts
}

// SetTimeouts updates the timeout configuration for new connections
func (m *Manager) SetTimeouts(timeouts TimeoutConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = timeouts
}
