package core

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/metrics"
	"ChatRelay/internal/service/chatsync"
	"ChatRelay/internal/upstream"
	"ChatRelay/internal/ws"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
)

type statusEvent struct {
	Connected bool           `json:"connected"`
	URL       string         `json:"url,omitempty"`
	State     upstream.State `json:"state,omitempty"`
	Code      int            `json:"code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// HandleEvent relays one upstream event. A failing event is logged and
// dropped; it never stops the relay.
func (c *Core) HandleEvent(ev upstream.Event) {
	name := eventName(ev)
	log := c.log.With(slog.String("event", name))

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordEventFailure(name)
			log.Error("relay event panic", slog.Any("panic", r))
		}
	}()

	var err error
	switch e := ev.(type) {
	case upstream.Connected:
		c.broadcastStatus(statusEvent{Connected: true, URL: e.URL})
	case upstream.Disconnected:
		c.broadcastStatus(statusEvent{Connected: false, Code: e.Code, Reason: e.Reason})
	case upstream.Frame:
		err = c.handleFrame(e)
	default:
		log.Warn("unsupported relay event")
	}

	if err != nil {
		metrics.RecordEventFailure(name)
		log.Error("relay event dropped", sl.Err(err))
	}
}

func eventName(ev upstream.Event) string {
	switch e := ev.(type) {
	case upstream.Connected:
		return "connected"
	case upstream.Disconnected:
		return "disconnected"
	case upstream.Frame:
		if e.Type == "" {
			return "untyped"
		}
		return string(e.Type)
	}
	return "unknown"
}

func (c *Core) broadcastStatus(status statusEvent) {
	if c.upstream != nil {
		current := c.upstream.Status()
		if status.URL == "" {
			status.URL = current.URL
		}
		status.State = current.State
	}
	c.broadcast(ws.EventStatus, status)
}

func (c *Core) handleFrame(frame upstream.Frame) error {
	ctx, cancel := c.eventContext()
	defer cancel()

	switch frame.Type {
	case upstream.FrameSessionStart, upstream.FrameSessionUpdate:
		return c.relaySession(ctx, frame)
	case upstream.FrameMessage:
		return c.relayMessage(ctx, frame)
	case upstream.FrameEscalation:
		c.relayEscalation(frame)
		return nil
	default:
		c.log.Debug("ignoring frame", slog.String("type", string(frame.Type)))
		return nil
	}
}

func (c *Core) relaySession(ctx context.Context, frame upstream.Frame) error {
	id, err := c.sync.SyncSession(ctx, sessionEvent(frame.Payload))
	if err != nil {
		return fmt.Errorf("sync session: %w", err)
	}

	c.broadcast(ws.EventSessionUpdate, map[string]interface{}{
		"session_id": id,
		"payload":    frame.Payload,
	})
	return nil
}

func (c *Core) relayMessage(ctx context.Context, frame upstream.Frame) error {
	ev := sessionEvent(frame.Payload)
	id, err := c.sync.SyncSession(ctx, ev)
	if err != nil {
		return fmt.Errorf("sync session: %w", err)
	}

	msg, err := c.sync.SyncMessage(ctx, id, messageEvent(frame.Payload))
	if err != nil {
		return fmt.Errorf("sync message: %w", err)
	}

	c.broadcast(ws.EventNewMessage, messageData(frame.Payload, ev.ExternalID, msg))
	return nil
}

func (c *Core) relayEscalation(frame upstream.Frame) {
	c.broadcast(ws.EventEscalation, frame.Payload)

	reason := stringField(frame.Payload, "reason", "message", "content")
	c.notify(fmt.Sprintf("Escalation in session %s (%s)\n%s",
		stringField(frame.Payload, "session_id", "external_session_id"),
		stringField(frame.Payload, "channel", "channel_type"),
		reason,
	))
}

// messageData merges the stored record into the upstream payload. Stored
// values win over anything the gateway sent under the same keys.
func messageData(payload map[string]interface{}, externalID string, msg *entity.ChatMessage) map[string]interface{} {
	data := make(map[string]interface{}, len(payload)+5)
	for k, v := range payload {
		data[k] = v
	}
	data["id"] = msg.ID
	data["session_id"] = msg.SessionID
	data["external_session_id"] = externalID
	data["direction"] = msg.Direction
	data["sender_type"] = msg.SenderType
	data["created_at"] = msg.CreatedAt
	return data
}

func sessionEvent(p map[string]interface{}) chatsync.SessionEvent {
	return chatsync.SessionEvent{
		ExternalID: stringField(p, "session_id", "external_session_id"),
		Channel:    stringField(p, "channel", "channel_type"),
		SenderID:   stringField(p, "sender_id", "from", "phone"),
		SenderName: stringField(p, "sender_name", "name"),
		Context:    rawField(p, "context"),
	}
}

func messageEvent(p map[string]interface{}) chatsync.MessageEvent {
	return chatsync.MessageEvent{
		Direction:   stringField(p, "direction"),
		SenderType:  stringField(p, "sender_type", "role", "sender"),
		Content:     stringField(p, "content", "text"),
		ContentType: stringField(p, "content_type"),
		MediaURL:    stringField(p, "media_url"),
		ToolCalls:   rawField(p, "tool_calls"),
		Usage:       rawField(p, "usage"),
	}
}

// stringField returns the first non-empty value among keys. Numbers are formatted.
func stringField(p map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := p[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func rawField(p map[string]interface{}, key string) json.RawMessage {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
