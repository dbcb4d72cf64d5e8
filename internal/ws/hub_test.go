package ws

import (
	"ChatRelay/entity"
	"ChatRelay/internal/upstream"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticStatus upstream.Status

func (s staticStatus) Status() upstream.Status {
	return upstream.Status(s)
}

type cookieAuth struct{}

func (cookieAuth) AuthenticateRequest(r *http.Request) (*entity.StaffSession, error) {
	cookie, err := r.Cookie("connect.sid")
	if err != nil || cookie.Value != "valid" {
		return nil, errors.New("unauthorized")
	}
	return &entity.StaffSession{SID: cookie.Value, UserID: "staff-1"}, nil
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcast_SkipsClientsThatAreNotOpen(t *testing.T) {
	hub := NewHub(discardLogger())
	a, b, c := newClient(hub, nil, "a"), newClient(hub, nil, "b"), newClient(hub, nil, "c")
	b.markClosed()
	for _, client := range []*Client{a, b, c} {
		require.True(t, hub.Register(client))
	}

	delivered := hub.Broadcast(EventNewMessage, map[string]string{"content": "x"})

	assert.Equal(t, 2, delivered)
	want := `{"type":"new_message","data":{"content":"x"}}`
	for _, client := range []*Client{a, c} {
		msgs := drain(client)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, want, string(msgs[0]))
	}
	assert.Empty(t, drain(b))
	assert.Equal(t, 3, hub.Count())
}

func TestBroadcast_FullQueueDropsOnlyForThatClient(t *testing.T) {
	hub := NewHub(discardLogger())
	slow, fast := newClient(hub, nil, "slow"), newClient(hub, nil, "fast")
	hub.Register(slow)
	hub.Register(fast)
	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("{}")
	}

	assert.Equal(t, 1, hub.Broadcast(EventEscalation, nil))
	assert.Len(t, drain(fast), 1)
	assert.Equal(t, 2, hub.Count())
}

func TestRegister_IsIdempotent(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.SetStatusProvider(staticStatus{Connected: true, URL: "ws://gw", State: upstream.StateOpen})
	c := newClient(hub, nil, "a")

	assert.True(t, hub.Register(c))
	assert.False(t, hub.Register(c))
	assert.Equal(t, 1, hub.Count())

	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"type":"status","data":{"connected":true,"url":"ws://gw","state":"open"}}`, string(msgs[0]))

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Equal(t, 0, hub.Count())
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, cookieAuth{}, discardLogger(), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, cookie string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if cookie != "" {
		header.Set("Cookie", "connect.sid="+cookie)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestServeWs_LiveSetTracksOpenConnections(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.SetStatusProvider(staticStatus{URL: "ws://gw", State: upstream.StateClosed})
	srv := newTestServer(t, hub)

	const n, m = 5, 3
	conns := make([]*websocket.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn, _, err := dial(t, srv, "valid")
		require.NoError(t, err)
		conns = append(conns, conn)

		var ev Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, EventStatus, ev.Type)
	}
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)

	for _, conn := range conns[:m] {
		require.NoError(t, conn.Close())
	}
	require.Eventually(t, func() bool { return hub.Count() == n-m }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(EventSessionUpdate, map[string]string{"session_id": "s1"})
	for _, conn := range conns[m:] {
		var ev Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, EventSessionUpdate, ev.Type)
		data, _ := json.Marshal(ev.Data)
		assert.JSONEq(t, `{"session_id":"s1"}`, string(data))
		_ = conn.Close()
	}
}

func TestServeWs_RejectsUnauthenticated(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := newTestServer(t, hub)

	for _, cookie := range []string{"", "expired"} {
		conn, resp, err := dial(t, srv, cookie)
		require.Error(t, err)
		assert.Nil(t, conn)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Equal(t, 0, hub.Count())
}
