package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "gateway restart"}
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	headers []http.Header
}

func (d *fakeDialer) push(conn *fakeConn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{conn: conn, err: err})
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers = append(d.headers, header)
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

// fakeScheduler records requested delays; tests fire the pending callback by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending func()
	stops   int
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = f
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stops++
		s.pending = nil
		return true
	}
}

func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	f := s.pending
	s.pending = nil
	s.mu.Unlock()
	require.NotNil(t, f, "no reconnect pending")
	f()
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *fakeScheduler) last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[len(s.delays)-1]
}

type recorder struct {
	events chan Event
}

func (r *recorder) HandleEvent(ev Event) {
	r.events <- ev
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newTestClient(t *testing.T, base, max time.Duration) (*Client, *fakeDialer, *fakeScheduler, *recorder) {
	t.Helper()
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	rec := &recorder{events: make(chan Event, 64)}
	c := NewClient(Options{
		URL:                  "ws://gateway.test/ws",
		Token:                "tkn",
		ReconnectInterval:    base,
		MaxReconnectInterval: max,
		Dialer:               dialer,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.schedule = sched.schedule
	c.SetHandler(rec)
	return c, dialer, sched, rec
}

func TestConnect_EmitsConnectedWithBearer(t *testing.T) {
	c, dialer, _, rec := newTestClient(t, time.Second, 30*time.Second)
	conn := newFakeConn()
	dialer.push(conn, nil)

	require.NoError(t, c.Connect(context.Background()))

	ev := rec.next(t)
	assert.Equal(t, Connected{URL: "ws://gateway.test/ws"}, ev)
	assert.Equal(t, "Bearer tkn", dialer.headers[0].Get("Authorization"))
	assert.Equal(t, Status{Connected: true, URL: "ws://gateway.test/ws", State: StateOpen}, c.Status())
}

func TestReadLoop_MalformedFramesAreSkipped(t *testing.T) {
	c, dialer, _, rec := newTestClient(t, time.Second, 30*time.Second)
	conn := newFakeConn()
	dialer.push(conn, nil)
	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)

	conn.in <- []byte("{not json")
	conn.in <- []byte(`[1,2,3]`)
	conn.in <- []byte(`{"type":"message","session_id":"s1","content":"hi"}`)
	conn.in <- []byte(`{"hello":"world"}`)

	frame, ok := rec.next(t).(Frame)
	require.True(t, ok)
	assert.Equal(t, FrameMessage, frame.Type)
	assert.Equal(t, "s1", frame.Payload["session_id"])

	frame, ok = rec.next(t).(Frame)
	require.True(t, ok)
	assert.Equal(t, FrameType(""), frame.Type)
	assert.True(t, c.Status().Connected)
}

func TestClose_EmitsDisconnectedAndReconnects(t *testing.T) {
	c, dialer, sched, rec := newTestClient(t, time.Second, 30*time.Second)
	first := newFakeConn()
	dialer.push(first, nil)
	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)

	close(first.in)

	assert.Equal(t, Disconnected{Code: websocket.CloseGoingAway, Reason: "gateway restart"}, rec.next(t))
	require.Eventually(t, func() bool { return sched.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, time.Second, sched.last())
	assert.False(t, c.Status().Connected)

	second := newFakeConn()
	dialer.push(second, nil)
	sched.fire(t)

	assert.IsType(t, Connected{}, rec.next(t))
	assert.True(t, c.Status().Connected)
}

func TestBackoff_GrowsAndCapsThenResets(t *testing.T) {
	c, dialer, sched, rec := newTestClient(t, time.Second, 3*time.Second)

	assert.Error(t, c.Connect(context.Background()))
	assert.IsType(t, Disconnected{}, rec.next(t))
	assert.Equal(t, time.Second, sched.last())

	expected := []time.Duration{1500 * time.Millisecond, 2250 * time.Millisecond, 3 * time.Second, 3 * time.Second}
	for _, want := range expected {
		sched.fire(t)
		rec.next(t)
		assert.Equal(t, want, sched.last())
	}

	conn := newFakeConn()
	dialer.push(conn, nil)
	sched.fire(t)
	assert.IsType(t, Connected{}, rec.next(t))

	close(conn.in)
	rec.next(t)
	require.Eventually(t, func() bool { return sched.count() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, time.Second, sched.last())
}

func TestScheduleReconnect_SingleTimer(t *testing.T) {
	c, _, sched, _ := newTestClient(t, time.Second, 30*time.Second)

	c.scheduleReconnect()
	c.scheduleReconnect()
	c.scheduleReconnect()

	assert.Equal(t, 1, sched.count())
}

func TestSend_OnlyWhileOpen(t *testing.T) {
	c, dialer, _, rec := newTestClient(t, time.Second, 30*time.Second)

	assert.False(t, c.SendReply("s1", "hello", "sms"))

	conn := newFakeConn()
	dialer.push(conn, nil)
	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)

	assert.True(t, c.SendReply("s1", "hello", "sms"))
	require.Len(t, conn.written, 1)

	var frame map[string]string
	require.NoError(t, json.Unmarshal(conn.written[0], &frame))
	assert.Equal(t, map[string]string{
		"type":       "staff_reply",
		"session_id": "s1",
		"content":    "hello",
		"channel":    "sms",
	}, frame)
}

func TestDisconnect_StopsReconnecting(t *testing.T) {
	c, dialer, sched, rec := newTestClient(t, time.Second, 30*time.Second)
	conn := newFakeConn()
	dialer.push(conn, nil)
	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)

	c.Disconnect()

	assert.Equal(t, Disconnected{Code: websocket.CloseNormalClosure, Reason: "client disconnect"}, rec.next(t))
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateClosed, c.Status().State)
	assert.False(t, c.Send(map[string]string{"type": "ping"}))

	// the old read loop exits without scheduling anything
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sched.count())
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	c, _, sched, rec := newTestClient(t, time.Second, 30*time.Second)

	assert.Error(t, c.Connect(context.Background()))
	rec.next(t)
	require.Equal(t, 1, sched.count())

	c.Disconnect()

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, 1, sched.stops)
	assert.Nil(t, sched.pending)
}

func TestConnect_ReplacesExistingConnection(t *testing.T) {
	c, dialer, sched, rec := newTestClient(t, time.Second, 30*time.Second)
	first, second := newFakeConn(), newFakeConn()
	dialer.push(first, nil)
	dialer.push(second, nil)

	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)
	require.NoError(t, c.Connect(context.Background()))
	rec.next(t)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	// the replaced connection's close is not reported
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sched.count())
	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}
