package ws

import (
	"github.com/socio/backend/internal/protocol"
)

// MessageHandler handles one parsed client frame. msg is the struct returned
// by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes client frames to handlers by type. Ping is
// answered internally.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	relay    *Relay
}

func NewMessageDispatcher(relay *Relay) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		relay:    relay,
	}
}

// Register associates a handler with a message type, replacing any earlier
// one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and routes it. Parse errors and unregistered types
// are answered with an error frame.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.relay.log.Debug().Err(err).Str("conn", conn.ID).Msg("dispatch parse error")
		d.relay.sendError(conn, protocol.CodeParseError, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.relay.send(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.relay.log.Debug().Str("type", msgType).Str("conn", conn.ID).Msg("unsupported message type")
		d.relay.sendError(conn, protocol.CodeUnsupportedType, "unsupported message type")
		return
	}

	handler(conn, msg)
}
