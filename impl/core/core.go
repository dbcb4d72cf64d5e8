package core

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/service/chatsync"
	"ChatRelay/internal/upstream"
	"context"
	"log/slog"
	"time"
)

const eventTimeout = 15 * time.Second

type Synchronizer interface {
	SyncSession(ctx context.Context, ev chatsync.SessionEvent) (string, error)
	SyncMessage(ctx context.Context, sessionID string, ev chatsync.MessageEvent) (*entity.ChatMessage, error)

	GetSession(ctx context.Context, id string) (*entity.ChatSession, error)
	FindSession(ctx context.Context, externalID string) (*entity.ChatSession, error)
	GetSessionMessages(ctx context.Context, id string, limit int) ([]entity.ChatMessage, error)
	ListSessions(ctx context.Context, filter entity.SessionFilter) ([]entity.ChatSessionPreview, error)
	UpdateSessionStatus(ctx context.Context, id string, status entity.SessionStatus, assignedTo *string) error
	Dashboard(ctx context.Context) (*entity.DashboardStats, error)
}

// Upstream is the bot gateway connection.
type Upstream interface {
	SendReply(sessionID, content, channel string) bool
	Status() upstream.Status
}

// Broadcaster fans events out to connected staff clients.
type Broadcaster interface {
	Broadcast(eventType string, data interface{}) int
	Count() int
}

type Notifier interface {
	SendMessage(msg string)
}

// Core is the relay between the bot gateway, the store and the staff clients.
type Core struct {
	sync     Synchronizer
	upstream Upstream
	hub      Broadcaster
	notifier Notifier
	log      *slog.Logger
}

func New(log *slog.Logger) *Core {
	return &Core{
		log: log.With(sl.Module("core")),
	}
}

func (c *Core) SetSynchronizer(sync Synchronizer) {
	c.sync = sync
}

func (c *Core) SetUpstream(up Upstream) {
	c.upstream = up
}

func (c *Core) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

// SetNotifier enables admin alerts for escalations.
func (c *Core) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Core) broadcast(eventType string, data interface{}) {
	if c.hub == nil {
		return
	}
	c.hub.Broadcast(eventType, data)
}

func (c *Core) notify(msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.SendMessage(msg)
}

func (c *Core) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}
