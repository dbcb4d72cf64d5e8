package chat

import (
	"ChatRelay/entity"
	"context"
)

type Core interface {
	ListSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error)
	GetSession(ctx context.Context, id string) (*entity.ChatSession, error)
	FindSession(ctx context.Context, externalID string) (*entity.ChatSession, error)
	GetSessionMessages(ctx context.Context, id string, limit int) ([]entity.ChatMessage, error)
	Reply(ctx context.Context, staff *entity.StaffSession, sessionID, content, contentType string) (*entity.ReplyResult, error)
	UpdateSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) (*entity.ChatSession, error)
	Dashboard(ctx context.Context) (*entity.DashboardStats, error)
	RelayStatus() entity.RelayStatus
}
