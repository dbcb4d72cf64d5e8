package core

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/metrics"
	"ChatRelay/internal/service/chatsync"
	"ChatRelay/internal/ws"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrUpstreamOffline = errors.New("bot gateway is not connected")
	ErrEmptyReply      = errors.New("reply content is empty")
)

// Reply stores a staff message and then forwards it to the gateway. The stored
// record is kept when forwarding fails; in that case the result comes back
// together with ErrUpstreamOffline.
func (c *Core) Reply(ctx context.Context, staff *entity.StaffSession, sessionID, content, contentType string) (*entity.ReplyResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyReply
	}

	session, err := c.sync.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msg, err := c.sync.SyncMessage(ctx, session.ID, chatsync.MessageEvent{
		Direction:   entity.DirectionOutbound,
		SenderType:  entity.SenderStaff,
		Content:     content,
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}

	data := messageData(map[string]interface{}{"content": msg.Content, "content_type": msg.ContentType}, session.ExternalID, msg)
	if staff != nil {
		data["staff_id"] = staff.UserID
	}
	c.broadcast(ws.EventNewMessage, data)

	forwarded := c.upstream != nil && c.upstream.SendReply(session.ExternalID, content, string(session.Channel))
	metrics.RecordStaffReply(forwarded)

	result := &entity.ReplyResult{Message: msg, Forwarded: forwarded}
	if !forwarded {
		c.log.Warn("staff reply saved but not forwarded",
			slog.String("session_id", session.ID),
			slog.String("external_id", session.ExternalID),
		)
		return result, ErrUpstreamOffline
	}
	return result, nil
}

func (c *Core) ListSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error) {
	return c.sync.ListSessions(ctx, filter)
}

func (c *Core) GetSession(ctx context.Context, id string) (*entity.ChatSession, error) {
	return c.sync.GetSession(ctx, id)
}

func (c *Core) FindSession(ctx context.Context, externalID string) (*entity.ChatSession, error) {
	return c.sync.FindSession(ctx, externalID)
}

func (c *Core) GetSessionMessages(ctx context.Context, id string, limit int) ([]entity.ChatMessage, error) {
	if _, err := c.sync.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return c.sync.GetSessionMessages(ctx, id, limit)
}

// UpdateSessionStatus applies a staff status change and tells the other
// staff clients about it.
func (c *Core) UpdateSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) (*entity.ChatSession, error) {
	if err := c.sync.UpdateSessionStatus(ctx, id, status, assignedTo); err != nil {
		return nil, err
	}

	session, err := c.sync.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c.log.Info("session status changed",
		slog.String("session_id", id),
		slog.String("status", string(session.Status)),
	)
	c.broadcast(ws.EventSessionUpdate, map[string]interface{}{
		"session_id": session.ID,
		"session":    session,
	})
	return session, nil
}

func (c *Core) Dashboard(ctx context.Context) (*entity.DashboardStats, error) {
	stats, err := c.sync.Dashboard(ctx)
	if err != nil {
		c.log.Error("dashboard stats", sl.Err(err))
		return nil, err
	}
	return stats, nil
}

func (c *Core) RelayStatus() entity.RelayStatus {
	var status entity.RelayStatus
	if c.upstream != nil {
		up := c.upstream.Status()
		status.Connected = up.Connected
		status.URL = up.URL
		status.State = string(up.State)
	}
	if c.hub != nil {
		status.StaffClients = c.hub.Count()
	}
	return status
}
