package messaging

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Subject roots. Chat and user subjects take a .<channel> or .<userID>
// suffix.
const (
	SubjectChat           = "chat"
	SubjectUser           = "user"
	SubjectPassionMatched = "passion.matched"
)

// Event names carried in Envelope.Event.
const (
	EventNewMessage     = "new-message"
	EventConnection     = "connection"
	EventPassionMatched = "passion-matched"
)

// Handler receives the subject a message arrived on and its payload.
type Handler func(subject string, data []byte)

// Bus is the pub/sub surface the services and the relay depend on.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject, key string, handler Handler) error
	Unsubscribe(key string) error
	Close()
}

// Envelope is the payload of every message on the bus.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func ChatSubject(channel string) string { return SubjectChat + "." + channel }

func UserSubject(userID string) string { return SubjectUser + "." + userID }

// SubjectFor maps a relay channel name to its bus subject:
// "chat-<channel>" → chat.<channel>, "user-<id>" → user.<id>.
func SubjectFor(channel string) (string, error) {
	switch {
	case strings.HasPrefix(channel, "chat-") && len(channel) > len("chat-"):
		return ChatSubject(strings.TrimPrefix(channel, "chat-")), nil
	case strings.HasPrefix(channel, "user-") && len(channel) > len("user-"):
		return UserSubject(strings.TrimPrefix(channel, "user-")), nil
	case channel == "passion":
		return SubjectPassionMatched, nil
	}
	return "", fmt.Errorf("messaging: unknown channel %q", channel)
}

// Publisher encodes events onto a Bus.
type Publisher struct {
	bus Bus
}

func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishEvent wraps data in an Envelope and publishes it on subject.
func (p *Publisher) PublishEvent(subject, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", event, err)
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("messaging: encode envelope: %w", err)
	}
	return p.bus.Publish(subject, payload)
}

// DecodeEnvelope parses a bus payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("messaging: decode envelope: %w", err)
	}
	return env, nil
}
