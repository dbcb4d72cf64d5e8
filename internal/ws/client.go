package ws

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/metrics"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single WebSocket connection from a staff browser.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	staff string
	open  atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, staff string) *Client {
	c := &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		staff: staff,
	}
	c.open.Store(true)
	return c
}

func (c *Client) isOpen() bool {
	return c.open.Load()
}

func (c *Client) markClosed() {
	c.open.Store(false)
}

// enqueue must be called with the hub lock held so send is not closed concurrently.
func (c *Client) enqueue(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// readPump only watches for close and keepalive; staff actions go through the REST API.
func (c *Client) readPump() {
	defer func() {
		c.markClosed()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.markClosed()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Authenticator resolves the staff session of an upgrade request.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (*entity.StaffSession, error)
}

// ServeWs handles WebSocket upgrade requests for staff clients. Unauthenticated
// requests get a 401 and the connection is closed without a handshake.
func ServeWs(hub *Hub, auth Authenticator, log *slog.Logger, w http.ResponseWriter, r *http.Request) {
	logger := log.With(sl.Module("ws"), slog.String("remote_addr", r.RemoteAddr))

	staff, err := auth.AuthenticateRequest(r)
	if err != nil {
		metrics.StaffUpgradeRejected.Inc()
		logger.Warn("websocket upgrade rejected", sl.Err(err))
		w.Header().Set("Connection", "close")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", sl.Err(err))
		return
	}

	client := newClient(hub, conn, staff.UserID)
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}
