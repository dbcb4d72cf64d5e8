// Package chatsync maps relayed chat events onto durable session and message
// records and resolves senders to known customers.
package chatsync

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
	defaultListLimit    = 50
	maxListLimit        = 200

	phoneSuffixLen = 10
)

var (
	ErrMissingSessionID = errors.New("external session id is required")
	ErrInvalidStatus    = errors.New("invalid session status")
)

type Repository interface {
	UpsertChatSession(ctx context.Context, in entity.SessionUpsert) (string, error)
	GetChatSession(ctx context.Context, id string) (*entity.ChatSession, error)
	GetChatSessionByExternalID(ctx context.Context, externalID string) (*entity.ChatSession, error)
	ListChatSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error)
	UpdateChatSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) error
	InsertChatMessage(ctx context.Context, msg *entity.ChatMessage) error
	GetChatMessages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error)
	FindCustomersByPhoneSuffix(ctx context.Context, suffix string) ([]entity.Customer, error)
	DashboardStats(ctx context.Context, since time.Time) (*entity.DashboardStats, error)
}

// SessionEvent is the session part of an inbound relay event.
type SessionEvent struct {
	ExternalID string
	Channel    string
	SenderID   string
	SenderName string
	Context    json.RawMessage
}

// MessageEvent is one chat turn to append to a session.
type MessageEvent struct {
	Direction   string
	SenderType  string
	Content     string
	ContentType string
	MediaURL    string
	ToolCalls   json.RawMessage
	Usage       json.RawMessage
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  logger.With(sl.Module("chatsync")),
	}
}

// SyncSession upserts the session for ev.ExternalID and returns its durable id.
func (s *Service) SyncSession(ctx context.Context, ev SessionEvent) (string, error) {
	externalID := strings.TrimSpace(ev.ExternalID)
	if externalID == "" {
		return "", ErrMissingSessionID
	}

	id, err := s.repo.UpsertChatSession(ctx, entity.SessionUpsert{
		ExternalID: externalID,
		Channel:    entity.ParseChannel(ev.Channel),
		SenderID:   ev.SenderID,
		SenderName: strings.TrimSpace(ev.SenderName),
		CustomerID: s.resolveCustomer(ctx, ev.SenderID),
		Context:    ev.Context,
	})
	if err != nil {
		return "", fmt.Errorf("sync session: %w", err)
	}
	return id, nil
}

// SyncMessage appends a message to the session and returns the stored record.
func (s *Service) SyncMessage(ctx context.Context, sessionID string, ev MessageEvent) (*entity.ChatMessage, error) {
	senderType := normalizeSender(ev.SenderType)
	msg := &entity.ChatMessage{
		SessionID:   sessionID,
		Direction:   normalizeDirection(ev.Direction, senderType),
		SenderType:  senderType,
		Content:     ev.Content,
		ContentType: ev.ContentType,
		MediaURL:    ev.MediaURL,
		ToolCalls:   ev.ToolCalls,
		Usage:       ev.Usage,
	}
	if err := s.repo.InsertChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("sync message: %w", err)
	}
	return msg, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*entity.ChatSession, error) {
	return s.repo.GetChatSession(ctx, id)
}

// FindSession looks a session up by the gateway's session id.
func (s *Service) FindSession(ctx context.Context, externalID string) (*entity.ChatSession, error) {
	return s.repo.GetChatSessionByExternalID(ctx, strings.TrimSpace(externalID))
}

func (s *Service) GetSessionMessages(ctx context.Context, id string, limit int) ([]entity.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return s.repo.GetChatMessages(ctx, id, limit)
}

func (s *Service) ListSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.repo.ListChatSessions(ctx, filter)
}

// UpdateSessionStatus applies a staff status change. Every transition is
// permitted, including reopening a closed session; callers own any policy.
func (s *Service) UpdateSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	return s.repo.UpdateChatSessionStatus(ctx, id, status, assignedTo)
}

// Dashboard returns aggregates over the last 24 hours.
func (s *Service) Dashboard(ctx context.Context) (*entity.DashboardStats, error) {
	return s.repo.DashboardStats(ctx, time.Now().Add(-24*time.Hour))
}

// resolveCustomer returns the id of the single customer whose phone or mobile
// shares the sender's last ten digits. No match, several matches or a lookup
// error all resolve to "".
func (s *Service) resolveCustomer(ctx context.Context, senderID string) string {
	suffix, ok := PhoneSuffix(senderID)
	if !ok {
		return ""
	}

	customers, err := s.repo.FindCustomersByPhoneSuffix(ctx, suffix)
	if err != nil {
		s.log.Warn("customer lookup failed", slog.String("suffix", suffix), sl.Err(err))
		return ""
	}

	matched := ""
	for _, c := range customers {
		if !sameSuffix(c.Phone, suffix) && !sameSuffix(c.Mobile, suffix) {
			continue
		}
		if matched != "" && matched != c.ID {
			s.log.Debug("ambiguous customer match", slog.String("suffix", suffix))
			return ""
		}
		matched = c.ID
	}
	return matched
}

// PhoneSuffix returns the last ten digits of v when it holds at least ten digits.
func PhoneSuffix(v string) (string, bool) {
	digits := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] >= '0' && v[i] <= '9' {
			digits = append(digits, v[i])
		}
	}
	if len(digits) < phoneSuffixLen {
		return "", false
	}
	return string(digits[len(digits)-phoneSuffixLen:]), true
}

func sameSuffix(phone, suffix string) bool {
	s, ok := PhoneSuffix(phone)
	return ok && s == suffix
}

func normalizeSender(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "assistant", "bot", "ai":
		return entity.SenderAssistant
	case "staff", "agent", "human":
		return entity.SenderStaff
	default:
		return entity.SenderUser
	}
}

func normalizeDirection(v, senderType string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case entity.DirectionInbound, "incoming":
		return entity.DirectionInbound
	case entity.DirectionOutbound, "outgoing":
		return entity.DirectionOutbound
	}
	if senderType == entity.SenderUser {
		return entity.DirectionInbound
	}
	return entity.DirectionOutbound
}
