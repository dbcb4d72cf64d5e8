package entity

import (
	"encoding/json"
	"strings"
	"time"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWebchat  Channel = "webchat"
	ChannelUnknown  Channel = "unknown"
)

// ParseChannel maps any unrecognized value to ChannelUnknown.
func ParseChannel(s string) Channel {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail, ChannelWebchat:
		return c
	default:
		return ChannelUnknown
	}
}

type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusAssigned SessionStatus = "assigned"
	StatusClosed   SessionStatus = "closed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusAssigned, StatusClosed:
		return true
	}
	return false
}

// ChatSession is the durable record of one conversation relayed from the bot gateway.
type ChatSession struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_session_id"`
	Channel       Channel         `json:"channel"`
	SenderID      string          `json:"sender_id"`
	SenderName    string          `json:"sender_name,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Status        SessionStatus   `json:"status"`
	AssignedTo    string          `json:"assigned_to,omitempty"`
	LastMessageAt time.Time       `json:"last_message_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ChatSessionPreview is a list row: the session plus its message count and latest text.
type ChatSessionPreview struct {
	ChatSession
	MessageCount int    `json:"message_count"`
	LastMessage  string `json:"last_message,omitempty"`
}

// SessionFilter narrows ListSessions. Zero values mean "any".
type SessionFilter struct {
	Status  SessionStatus
	Channel Channel
	Limit   int
	Offset  int
}

// SessionUpsert carries the fields of an inbound event used to create or refresh a session.
// Empty optional fields never overwrite stored values.
type SessionUpsert struct {
	ExternalID string
	Channel    Channel
	SenderID   string
	SenderName string
	CustomerID string
	Context    json.RawMessage
}
