// Package upstream keeps a single reconnecting websocket connection to the bot gateway.
package upstream

import (
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/metrics"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	backoffFactor    = 1.5
	handshakeTimeout = 10 * time.Second
)

var errNotObject = errors.New("frame is not a json object")

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func (d wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// scheduleFunc runs f after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Options struct {
	URL                  string
	Token                string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	Dialer               Dialer
}

type Status struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url"`
	State     State  `json:"state"`
}

// Client is the relay's connection to the bot gateway. It reconnects with a
// growing delay after every close until Disconnect is called.
type Client struct {
	url          string
	token        string
	baseInterval time.Duration
	maxInterval  time.Duration
	dialer       Dialer
	schedule     scheduleFunc
	handler      Handler
	log          *slog.Logger

	mu        sync.Mutex
	conn      Conn
	gen       uint64
	state     State
	interval  time.Duration
	stopTimer func() bool
	stopped   bool

	writeMu sync.Mutex
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.MaxReconnectInterval < opts.ReconnectInterval {
		opts.MaxReconnectInterval = 30 * time.Second
		if opts.MaxReconnectInterval < opts.ReconnectInterval {
			opts.MaxReconnectInterval = opts.ReconnectInterval
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}}
	}
	return &Client{
		url:          opts.URL,
		token:        opts.Token,
		baseInterval: opts.ReconnectInterval,
		maxInterval:  opts.MaxReconnectInterval,
		dialer:       opts.Dialer,
		schedule:     afterFunc,
		log:          log.With(sl.Module("upstream"), slog.String("url", opts.URL)),
		state:        StateIdle,
		interval:     opts.ReconnectInterval,
	}
}

// SetHandler must be called before Connect.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// Run connects and keeps the connection alive until ctx is done.
func (c *Client) Run(ctx context.Context) {
	if err := c.Connect(ctx); err != nil {
		c.log.Warn("initial connect failed, will retry", sl.Err(err))
	}
	<-ctx.Done()
	c.Disconnect()
}

// Connect dials the gateway, replacing any existing connection. A failed dial
// schedules a reconnect and returns the error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	old := c.conn
	c.conn = nil
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("connecting to bot gateway")
	conn, err := c.dialer.Dial(ctx, c.url, header)

	c.mu.Lock()
	if gen != c.gen || c.stopped {
		// superseded by Disconnect or a newer Connect while dialing
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()
		c.log.Warn("bot gateway dial failed", sl.Err(err))
		c.emit(Disconnected{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.state = StateOpen
	c.interval = c.baseInterval
	c.mu.Unlock()

	metrics.RecordUpstreamState(true)
	c.log.Info("connected to bot gateway")
	c.emit(Connected{URL: c.url})

	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		if !c.current(gen) {
			return
		}

		frame, err := parseFrame(data)
		if err != nil {
			metrics.UpstreamMalformedFrames.Inc()
			c.log.Warn("discarding malformed frame", slog.Int("size", len(data)), sl.Err(err))
			continue
		}
		metrics.RecordFrame(string(frame.Type))
		c.emit(frame)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code, reason = closeErr.Code, closeErr.Text
	}

	metrics.RecordUpstreamState(false)
	c.log.Warn("bot gateway connection closed", slog.Int("code", code), slog.String("reason", reason))
	c.emit(Disconnected{Code: code, Reason: reason})
	c.scheduleReconnect()
}

// scheduleReconnect arms a single reconnect timer. The delay grows by
// backoffFactor up to maxInterval and is reset only by a successful connect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.stopTimer != nil {
		return
	}

	delay := c.interval
	next := time.Duration(float64(c.interval) * backoffFactor)
	if next > c.maxInterval {
		next = c.maxInterval
	}
	c.interval = next

	c.log.Info("scheduling reconnect", slog.Duration("delay", delay))
	metrics.UpstreamReconnects.Inc()
	c.stopTimer = c.schedule(delay, func() {
		c.mu.Lock()
		c.stopTimer = nil
		c.mu.Unlock()
		_ = c.connect(context.Background())
	})
}

// Send writes v as a JSON text frame. It reports false when the connection is
// not open or the write fails; delivery is never guaranteed.
func (c *Client) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode outbound frame", sl.Err(err))
		return false
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if conn == nil || !open {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("write to bot gateway failed", sl.Err(err))
		return false
	}
	return true
}

func (c *Client) SendReply(sessionID, content, channel string) bool {
	return c.Send(StaffReply{
		Type:      "staff_reply",
		SessionID: sessionID,
		Content:   content,
		Channel:   channel,
	})
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected: c.state == StateOpen,
		URL:       c.url,
		State:     c.state,
	}
}

// Disconnect cancels any pending reconnect and closes the connection. No
// reconnect happens until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	conn := c.conn
	wasOpen := c.state == StateOpen
	c.conn = nil
	c.gen++
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasOpen {
		metrics.RecordUpstreamState(false)
		c.log.Info("disconnected from bot gateway")
		c.emit(Disconnected{Code: websocket.CloseNormalClosure, Reason: "client disconnect"})
	}
}

func (c *Client) emit(ev Event) {
	if c.handler == nil {
		return
	}
	c.handler.HandleEvent(ev)
}
