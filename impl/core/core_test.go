package core

import (
	"ChatRelay/entity"
	repository "ChatRelay/internal/database"
	"ChatRelay/internal/service/chatsync"
	"ChatRelay/internal/upstream"
	"ChatRelay/internal/ws"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSync struct {
	Synchronizer
	calls       []string
	sessions    map[string]*entity.ChatSession
	nextMsgID   int64
	sessionErr  error
	panicOnSync bool
}

func newFakeSync() *fakeSync {
	return &fakeSync{sessions: make(map[string]*entity.ChatSession)}
}

func (f *fakeSync) SyncSession(_ context.Context, ev chatsync.SessionEvent) (string, error) {
	if f.panicOnSync {
		panic("boom")
	}
	f.calls = append(f.calls, "session:"+ev.ExternalID)
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	return "durable-" + ev.ExternalID, nil
}

func (f *fakeSync) SyncMessage(_ context.Context, sessionID string, ev chatsync.MessageEvent) (*entity.ChatMessage, error) {
	f.calls = append(f.calls, "message:"+sessionID)
	f.nextMsgID++
	return &entity.ChatMessage{
		ID:          f.nextMsgID,
		SessionID:   sessionID,
		Direction:   ev.Direction,
		SenderType:  ev.SenderType,
		Content:     ev.Content,
		ContentType: ev.ContentType,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeSync) GetSession(_ context.Context, id string) (*entity.ChatSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

type fakeUpstream struct {
	connected bool
	replies   []string
}

func (f *fakeUpstream) SendReply(sessionID, content, channel string) bool {
	if !f.connected {
		return false
	}
	f.replies = append(f.replies, sessionID+"|"+content+"|"+channel)
	return true
}

func (f *fakeUpstream) Status() upstream.Status {
	state := upstream.StateClosed
	if f.connected {
		state = upstream.StateOpen
	}
	return upstream.Status{Connected: f.connected, URL: "ws://gw", State: state}
}

type broadcast struct {
	Type string
	Data interface{}
}

type fakeHub struct {
	mu     sync.Mutex
	events []broadcast
}

func (f *fakeHub) Broadcast(eventType string, data interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcast{Type: eventType, Data: data})
	return 1
}

func (f *fakeHub) Count() int {
	return 2
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) SendMessage(msg string) {
	f.messages = append(f.messages, msg)
}

func newTestCore() (*Core, *fakeSync, *fakeUpstream, *fakeHub, *fakeNotifier) {
	s, up, hub, n := newFakeSync(), &fakeUpstream{connected: true}, &fakeHub{}, &fakeNotifier{}
	c := New(discardLogger())
	c.SetSynchronizer(s)
	c.SetUpstream(up)
	c.SetBroadcaster(hub)
	c.SetNotifier(n)
	return c, s, up, hub, n
}

func frame(t *testing.T, raw string) upstream.Frame {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	f := upstream.Frame{Payload: payload, Raw: json.RawMessage(raw)}
	if v, ok := payload["type"].(string); ok {
		f.Type = upstream.FrameType(v)
	}
	return f
}

func TestHandleEvent_MessagePersistsThenBroadcasts(t *testing.T) {
	c, s, _, hub, _ := newTestCore()

	c.HandleEvent(frame(t, `{"type":"message","id":"upstream-7","session_id":"ext-1","channel":"sms","sender_id":"+447700900123","role":"user","content":"hi"}`))

	assert.Equal(t, []string{"session:ext-1", "message:durable-ext-1"}, s.calls)
	require.Len(t, hub.events, 1)
	assert.Equal(t, ws.EventNewMessage, hub.events[0].Type)

	data := hub.events[0].Data.(map[string]interface{})
	assert.Equal(t, int64(1), data["id"])
	assert.Equal(t, "durable-ext-1", data["session_id"])
	assert.Equal(t, "ext-1", data["external_session_id"])
	assert.Equal(t, "hi", data["content"])
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), data["created_at"])
}

func TestHandleEvent_SessionFrames(t *testing.T) {
	c, s, _, hub, _ := newTestCore()

	c.HandleEvent(frame(t, `{"type":"session_start","session_id":"ext-2","channel":"webchat"}`))
	c.HandleEvent(frame(t, `{"type":"session_update","session_id":"ext-2","sender_name":"Ann"}`))

	assert.Equal(t, []string{"session:ext-2", "session:ext-2"}, s.calls)
	require.Len(t, hub.events, 2)
	for _, ev := range hub.events {
		assert.Equal(t, ws.EventSessionUpdate, ev.Type)
		assert.Equal(t, "durable-ext-2", ev.Data.(map[string]interface{})["session_id"])
	}
}

func TestHandleEvent_EscalationIsNotPersisted(t *testing.T) {
	c, s, _, hub, n := newTestCore()
	f := frame(t, `{"type":"escalation","session_id":"ext-3","channel":"whatsapp","reason":"asked for a human"}`)

	c.HandleEvent(f)

	assert.Empty(t, s.calls)
	require.Len(t, hub.events, 1)
	assert.Equal(t, ws.EventEscalation, hub.events[0].Type)
	assert.Equal(t, f.Payload, hub.events[0].Data)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "ext-3")
	assert.Contains(t, n.messages[0], "asked for a human")
}

func TestHandleEvent_ConnectivityBroadcastsStatus(t *testing.T) {
	c, _, up, hub, _ := newTestCore()

	c.HandleEvent(upstream.Connected{URL: "ws://gw"})
	up.connected = false
	c.HandleEvent(upstream.Disconnected{Code: 1006, Reason: "eof"})

	require.Len(t, hub.events, 2)
	assert.Equal(t, statusEvent{Connected: true, URL: "ws://gw", State: upstream.StateOpen}, hub.events[0].Data)
	assert.Equal(t, statusEvent{Connected: false, URL: "ws://gw", State: upstream.StateClosed, Code: 1006, Reason: "eof"}, hub.events[1].Data)
}

func TestHandleEvent_FailuresAreContained(t *testing.T) {
	c, s, _, hub, _ := newTestCore()

	s.sessionErr = errors.New("store down")
	c.HandleEvent(frame(t, `{"type":"message","session_id":"ext-4","content":"lost"}`))
	assert.Empty(t, hub.events)

	s.sessionErr = nil
	s.panicOnSync = true
	assert.NotPanics(t, func() {
		c.HandleEvent(frame(t, `{"type":"session_start","session_id":"ext-4"}`))
	})

	s.panicOnSync = false
	c.HandleEvent(frame(t, `{"type":"message","session_id":"ext-4","content":"next"}`))
	require.Len(t, hub.events, 1)
	assert.Equal(t, ws.EventNewMessage, hub.events[0].Type)
}

func TestHandleEvent_UnknownFrameIgnored(t *testing.T) {
	c, s, _, hub, _ := newTestCore()

	c.HandleEvent(frame(t, `{"type":"typing","session_id":"ext-5"}`))
	c.HandleEvent(frame(t, `{"session_id":"ext-5"}`))

	assert.Empty(t, s.calls)
	assert.Empty(t, hub.events)
}

func TestReply(t *testing.T) {
	c, s, up, hub, _ := newTestCore()
	s.sessions["sess-1"] = &entity.ChatSession{ID: "sess-1", ExternalID: "ext-1", Channel: entity.ChannelSMS}
	staff := &entity.StaffSession{UserID: "42"}

	res, err := c.Reply(context.Background(), staff, "sess-1", "On my way", "")
	require.NoError(t, err)
	assert.True(t, res.Forwarded)
	assert.Equal(t, entity.DirectionOutbound, res.Message.Direction)
	assert.Equal(t, entity.SenderStaff, res.Message.SenderType)
	assert.Equal(t, []string{"ext-1|On my way|sms"}, up.replies)
	require.Len(t, hub.events, 1)
	assert.Equal(t, "42", hub.events[0].Data.(map[string]interface{})["staff_id"])

	up.connected = false
	res, err = c.Reply(context.Background(), staff, "sess-1", "Still there?", "")
	assert.ErrorIs(t, err, ErrUpstreamOffline)
	require.NotNil(t, res)
	assert.False(t, res.Forwarded)
	assert.Equal(t, "Still there?", res.Message.Content)
	assert.Equal(t, []string{"message:sess-1", "message:sess-1"}, s.calls)
}

func TestReply_Rejects(t *testing.T) {
	c, s, _, _, _ := newTestCore()

	_, err := c.Reply(context.Background(), nil, "sess-1", "  ", "")
	assert.ErrorIs(t, err, ErrEmptyReply)

	_, err = c.Reply(context.Background(), nil, "missing", "hello", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, s.calls)
}

func TestRelayStatus(t *testing.T) {
	c, _, _, _, _ := newTestCore()

	status := c.RelayStatus()
	assert.True(t, status.Connected)
	assert.Equal(t, 2, status.StaffClients)
	assert.Equal(t, "ws://gw", status.URL)
	assert.Equal(t, "open", status.State)
}

func TestRelay_WithSQLiteStore(t *testing.T) {
	db, err := repository.NewSQLClient("sqlite", filepath.Join(t.TempDir(), "relay.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := &fakeHub{}
	c := New(discardLogger())
	c.SetSynchronizer(chatsync.NewService(db, discardLogger()))
	c.SetBroadcaster(hub)

	c.HandleEvent(frame(t, `{"type":"session_start","session_id":"wa-1","channel":"whatsapp","sender_id":"380501112233","sender_name":"Olha"}`))
	c.HandleEvent(frame(t, `{"type":"message","session_id":"wa-1","role":"user","content":"first"}`))
	c.HandleEvent(frame(t, `{"type":"message","session_id":"wa-1","role":"assistant","content":"second","usage":{"tokens":12}}`))

	sessions, err := c.ListSessions(context.Background(), entity.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Olha", sessions[0].SenderName)
	assert.Equal(t, entity.ChannelWhatsApp, sessions[0].Channel)

	msgs, err := c.GetSessionMessages(context.Background(), sessions[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, entity.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, "second", msgs[1].Content)
	assert.JSONEq(t, `{"tokens":12}`, string(msgs[1].Usage))

	res, err := c.Reply(context.Background(), nil, sessions[0].ID, "staff here", "")
	assert.ErrorIs(t, err, ErrUpstreamOffline)
	require.NotNil(t, res)

	msgs, err = c.GetSessionMessages(context.Background(), sessions[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, entity.SenderStaff, msgs[2].SenderType)
}
