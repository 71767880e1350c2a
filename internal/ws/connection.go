package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one relay client. Writes are serialized by writeMu; the
// subscription set is guarded by mu.
type Connection struct {
	ID        string
	Conn      net.Conn
	RemoteIP  string
	CreatedAt time.Time

	lastSeen     atomic.Int64 // unix nanos of the last frame read
	writeTimeout time.Duration
	writeMu      sync.Mutex

	mu       sync.Mutex
	channels map[string]string // relay channel -> bus subscription key
}

func newConnection(id string, conn net.Conn, remoteIP string, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Conn:         conn,
		RemoteIP:     remoteIP,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		channels:     make(map[string]string),
	}
	c.touch()
	return c
}

func (c *Connection) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen is when the last frame arrived from the client.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// WriteMessage sends a text frame.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	defer c.clearWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame, which browsers answer with a
// pong on their own.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	defer c.clearWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

func (c *Connection) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	defer c.clearWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func (c *Connection) clearWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Time{})
	}
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}

// addChannel records a subscription and reports false if the channel was
// already subscribed.
func (c *Connection) addChannel(channel, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return false
	}
	c.channels[channel] = key
	return true
}

func (c *Connection) removeChannel(channel string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.channels[channel]
	delete(c.channels, channel)
	return key, ok
}

// drainChannels removes and returns every subscription key.
func (c *Connection) drainChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.channels))
	for ch, key := range c.channels {
		keys = append(keys, key)
		delete(c.channels, ch)
	}
	return keys
}

// ChannelCount returns the number of channels the client is subscribed to.
func (c *Connection) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// ConnectionManager is a thread-safe registry of live connections by ID.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters and closes a connection. It returns false if the
// connection was already gone, so concurrent removals clean up once.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
