package chat

import (
	"strings"
	"time"
)

// DefaultChannel is used when a message names no channel.
const DefaultChannel = "general"

// Collection holds chat messages in the document store.
const Collection = "messages"

// User is the author as sent by the client.
type User struct {
	UID    string `json:"uid" validate:"required,max=128"`
	Name   string `json:"name" validate:"required_without=Email,max=64"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
	Avatar string `json:"avatar"`
}

// DisplayName is Name, or the local part of Email when Name is empty.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Message is a stored chat message. Replies is filled by List for
// top-level messages only.
type Message struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	User      User      `json:"user"`
	Channel   string    `json:"channel"`
	ReplyTo   *string   `json:"replyTo"`
	Timestamp time.Time `json:"timestamp"`
	Replies   []Message `json:"replies"`
}

// SendRequest is the body of POST /api/send-message.
type SendRequest struct {
	Text    string `json:"text" validate:"required"`
	User    User   `json:"user"`
	Channel string `json:"channel" validate:"omitempty,slug"`
	ReplyTo string `json:"replyTo" validate:"omitempty,max=64"`
}
