// Package client is a websocket client for load testing the relay. It dials
// with gobwas/ws, records the connection id from the "connected" frame and
// dispatches every later frame to handlers registered by type.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"

	"github.com/socio/backend/internal/protocol"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is one simulated relay connection.
type Client struct {
	conn net.Conn
	rw   frameRW

	writeMu sync.Mutex

	mu           sync.Mutex
	connectionID string
	metrics      Metrics
	handlers     map[string]func(json.RawMessage)
	subscribed   map[string]chan struct{}

	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// frameRW reads from the handshake buffer or the conn. Writes are the
// control frame replies made by the reader and share writeMu with Send.
type frameRW struct {
	io.Reader
	c *Client
}

func (f frameRW) Write(p []byte) (int, error) {
	f.c.writeMu.Lock()
	defer f.c.writeMu.Unlock()
	return f.c.conn.Write(p)
}

// New dials url and starts the read loop. Channels listed in the url's
// "channel" query are subscribed by the server on connect.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		conn:       conn,
		handlers:   make(map[string]func(json.RawMessage)),
		subscribed: make(map[string]chan struct{}),
		connected:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.rw = frameRW{Reader: conn, c: c}
	if br != nil {
		c.rw.Reader = br
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// On registers the handler for a server frame type, replacing any earlier
// one. Handlers run on the read loop and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.MessagesSent++
	}
	c.mu.Unlock()
	return err
}

// WaitConnected blocks until the server's "connected" frame arrives.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return fmt.Errorf("client: connection closed before handshake")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe asks for channel and waits for the server's confirmation.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	ack := c.expectSubscribed(channel)
	if err := c.Send(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, Channel: channel}); err != nil {
		return err
	}
	return c.waitSubscribed(ctx, channel, ack)
}

// WaitSubscribed waits for the confirmation of a subscription requested
// through the dial url.
func (c *Client) WaitSubscribed(ctx context.Context, channel string) error {
	return c.waitSubscribed(ctx, channel, c.expectSubscribed(channel))
}

func (c *Client) expectSubscribed(channel string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subscribed[channel]
	if !ok {
		ch = make(chan struct{})
		c.subscribed[channel] = ch
	}
	return ch
}

func (c *Client) waitSubscribed(ctx context.Context, channel string, ack chan struct{}) error {
	select {
	case <-ack:
		return nil
	case <-c.done:
		return fmt.Errorf("client: connection closed before %q was subscribed", channel)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionID is the id assigned by the server, empty until connected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Alive reports whether the read loop is still running.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})

	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch env.Type {
		case protocol.TypeConnected:
			var m protocol.ConnectedMsg
			if json.Unmarshal(data, &m) == nil && c.connectionID == "" {
				c.connectionID = m.ConnectionID
				close(c.connected)
			}
		case protocol.TypeSubscribed:
			var m protocol.SubscribedMsg
			if json.Unmarshal(data, &m) == nil {
				ch, ok := c.subscribed[m.Channel]
				if !ok {
					ch = make(chan struct{})
					c.subscribed[m.Channel] = ch
				}
				select {
				case <-ch:
				default:
					close(ch)
				}
			}
		case protocol.TypeError:
			c.metrics.Errors++
		}
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
