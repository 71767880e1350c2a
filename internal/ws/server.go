// Package ws is the realtime relay: websocket clients subscribe to channels
// ("chat-<channel>", "user-<id>", "passion") and receive every event
// published on the matching bus subject. Each connection gets one reader
// goroutine; bus handlers write to the connection directly.
package ws

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/metrics"
	"github.com/socio/backend/internal/protocol"
	"github.com/socio/backend/internal/ratelimit"
)

const historyTimeout = 3 * time.Second

// RelayConfig holds tunable parameters for the relay.
type RelayConfig struct {
	MaxConnections int           // hard cap on total connections
	MaxChannels    int           // subscriptions per connection
	MaxFrameBytes  int64         // larger client frames close the connection
	WriteTimeout   time.Duration // per-frame write deadline
	Heartbeat      HeartbeatConfig
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxConnections: 10000,
		MaxChannels:    16,
		MaxFrameBytes:  4096,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// History supplies recent chat messages for a channel.
type History interface {
	Recent(ctx context.Context, channel string) ([]chat.Message, error)
}

// Relay upgrades HTTP requests to websocket connections and forwards bus
// events to subscribed clients. It implements http.Handler for the upgrade
// and suture.Service for the heartbeat and shutdown.
type Relay struct {
	config     RelayConfig
	conns      *ConnectionManager
	bus        messaging.Bus
	history    History
	dispatcher *MessageDispatcher
	readers    sync.WaitGroup
	log        zerolog.Logger
}

// NewRelay creates a relay over bus. history may be nil.
func NewRelay(config RelayConfig, bus messaging.Bus, history History) *Relay {
	r := &Relay{
		config:  config,
		conns:   NewConnectionManager(),
		bus:     bus,
		history: history,
		log:     logging.Component("relay"),
	}
	r.dispatcher = NewMessageDispatcher(r)
	r.dispatcher.Register(protocol.TypeSubscribe, func(c *Connection, msg interface{}) {
		r.subscribe(c, msg.(protocol.SubscribeMsg).Channel)
	})
	r.dispatcher.Register(protocol.TypeUnsubscribe, func(c *Connection, msg interface{}) {
		r.unsubscribe(c, msg.(protocol.UnsubscribeMsg).Channel)
	})
	return r
}

// ServeHTTP upgrades the request. An optional ?channel= query parameter
// subscribes the connection straight away.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.conns.Count() >= r.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	channel := req.URL.Query().Get("channel")
	if channel != "" {
		if _, err := messaging.SubjectFor(channel); err != nil {
			http.Error(w, "unknown channel", http.StatusBadRequest)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(req, w)
	if err != nil {
		r.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.New().String(), conn, ratelimit.ByIP(req), r.config.WriteTimeout)
	r.conns.Add(c)
	metrics.RelayConnections.Inc()
	r.log.Debug().Str("conn", c.ID).Str("ip", c.RemoteIP).Int("total", r.conns.Count()).Msg("connection opened")

	r.send(c, protocol.TypeConnected, protocol.ConnectedMsg{ConnectionID: c.ID})
	if channel != "" {
		r.subscribe(c, channel)
	}

	r.readers.Add(1)
	go func() {
		defer r.readers.Done()
		r.readLoop(c)
	}()
}

// readLoop reads client frames until the connection fails, closes, or goes
// quiet for longer than the heartbeat allows.
func (r *Relay) readLoop(c *Connection) {
	defer r.remove(c)
	idle := r.config.Heartbeat.Interval + r.config.Heartbeat.Timeout

	for {
		if idle > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(idle))
		}
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.touch()

		if header.Length > r.config.MaxFrameBytes {
			r.log.Info().Str("conn", c.ID).Int64("bytes", header.Length).Msg("frame too large")
			return
		}
		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writePong(payload); err != nil {
					return
				}
			}
			continue
		}
		if len(payload) == 0 {
			continue
		}
		r.dispatcher.Dispatch(c, payload)
	}
}

func (r *Relay) subscribe(c *Connection, channel string) {
	subject, err := messaging.SubjectFor(channel)
	if err != nil {
		r.sendError(c, protocol.CodeBadChannel, "unknown channel")
		return
	}
	if c.ChannelCount() >= r.config.MaxChannels {
		r.sendError(c, protocol.CodeTooManyChannels, "too many channels")
		return
	}

	key := c.ID + "|" + channel
	if !c.addChannel(channel, key) {
		r.send(c, protocol.TypeSubscribed, protocol.SubscribedMsg{Channel: channel})
		return
	}
	if err := r.bus.Subscribe(subject, key, r.forward(c, channel)); err != nil {
		c.removeChannel(channel)
		r.log.Warn().Err(err).Str("conn", c.ID).Str("subject", subject).Msg("bus subscribe failed")
		r.sendError(c, protocol.CodeUnavailable, "subscription failed")
		return
	}
	// The connection may have been dropped while subscribing.
	if r.conns.Get(c.ID) == nil {
		_ = r.bus.Unsubscribe(key)
		return
	}

	r.send(c, protocol.TypeSubscribed, protocol.SubscribedMsg{Channel: channel})
	if name, ok := strings.CutPrefix(channel, "chat-"); ok && r.history != nil {
		r.sendHistory(c, channel, name)
	}
}

func (r *Relay) sendHistory(c *Connection, channel, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	msgs, err := r.history.Recent(ctx, name)
	if err != nil {
		r.log.Warn().Err(err).Str("channel", channel).Msg("history unavailable")
		return
	}
	r.send(c, protocol.TypeHistory, protocol.HistoryMsg{Channel: channel, Messages: msgs})
}

func (r *Relay) unsubscribe(c *Connection, channel string) {
	if key, ok := c.removeChannel(channel); ok {
		if err := r.bus.Unsubscribe(key); err != nil {
			r.log.Warn().Err(err).Str("conn", c.ID).Str("channel", channel).Msg("bus unsubscribe failed")
		}
	}
	r.send(c, protocol.TypeUnsubscribed, protocol.UnsubscribedMsg{Channel: channel})
}

// forward returns the bus handler that relays one subject to c.
func (r *Relay) forward(c *Connection, channel string) messaging.Handler {
	return func(_ string, data []byte) {
		env, err := messaging.DecodeEnvelope(data)
		if err != nil {
			r.log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable event")
			return
		}
		r.send(c, protocol.TypeEvent, protocol.EventMsg{Channel: channel, Event: env.Event, Data: env.Data})
	}
}

// remove unregisters c, drops its bus subscriptions and closes it. Safe to
// call more than once.
func (r *Relay) remove(c *Connection) {
	if !r.conns.Remove(c.ID) {
		return
	}
	for _, key := range c.drainChannels() {
		if err := r.bus.Unsubscribe(key); err != nil {
			r.log.Warn().Err(err).Str("conn", c.ID).Msg("bus unsubscribe failed")
		}
	}
	metrics.RelayConnections.Dec()
	r.log.Debug().Str("conn", c.ID).Int("total", r.conns.Count()).Msg("connection closed")
}

func (r *Relay) send(c *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		r.log.Error().Err(err).Str("type", msgType).Msg("build frame failed")
		return
	}
	if err := c.WriteMessage(data); err != nil {
		r.log.Debug().Err(err).Str("conn", c.ID).Str("type", msgType).Msg("write failed")
	}
}

func (r *Relay) sendError(c *Connection, code, message string) {
	r.send(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// Connections exposes the live connection registry.
func (r *Relay) Connections() *ConnectionManager {
	return r.conns
}

// Serve runs the heartbeat until ctx is done, then closes every connection
// and waits for the readers to exit.
func (r *Relay) Serve(ctx context.Context) error {
	r.runHeartbeat(ctx)

	for _, c := range r.conns.All() {
		r.remove(c)
	}
	r.readers.Wait()
	r.log.Info().Msg("relay stopped, all connections closed")
	return ctx.Err()
}

func (r *Relay) String() string { return "relay" }
