package entity

import (
	"encoding/json"
	"time"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	SenderUser      = "user"
	SenderStaff     = "staff"
	SenderAssistant = "assistant"

	ContentText = "text"
)

// ChatMessage is one relayed chat turn. Rows are append-only.
type ChatMessage struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	Direction   string          `json:"direction"`
	SenderType  string          `json:"sender_type"`
	Content     string          `json:"content"`
	ContentType string          `json:"content_type"`
	MediaURL    string          `json:"media_url,omitempty"`
	ToolCalls   json.RawMessage `json:"tool_calls,omitempty"`
	Usage       json.RawMessage `json:"usage,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
