// Package ws adapts gorilla/websocket connections to broadcast.Client.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/swapguard/internal/broadcast"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	ownerHeader = "X-Owner-ID"
)

// Registry is the part of the broadcaster the hub drives.
type Registry interface {
	Connect(c broadcast.Client)
	Disconnect(id string)
	Subscribe(id string, symbols []string) error
	Unsubscribe(id string, symbols []string) error
}

// controlMsg is the JSON message a client sends to manage its topics.
type controlMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
	// Shorthand form: {"subscribe":["BTC"]}
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub upgrades HTTP requests and pumps frames between sockets and the
// broadcaster.
type Hub struct {
	registry Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub. allowedOrigins empty or containing "*" accepts any
// origin.
func NewHub(registry Registry, allowedOrigins []string, logger *slog.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// HandleWS upgrades the request and registers the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(uuid.NewString(), requestOwner(r), conn)
	go c.writePump()

	h.registry.Connect(c)
	go h.readPump(c)
}

// requestOwner identifies the connecting account. Browsers cannot set
// headers on an upgrade, so the "owner" query parameter is accepted too.
func requestOwner(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ownerHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("owner"))
}

// readPump reads control messages until the connection fails, then
// unregisters the client.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.registry.Disconnect(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close error",
					slog.String("client", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Debug("ignoring malformed control message", slog.String("client", c.id))
			continue
		}
		h.apply(c.id, msg)
	}
}

func (h *Hub) apply(id string, msg controlMsg) {
	subscribe := append([]string(nil), msg.Subscribe...)
	unsubscribe := append([]string(nil), msg.Unsubscribe...)
	switch msg.Action {
	case "subscribe":
		subscribe = append(subscribe, msg.Symbols...)
	case "unsubscribe":
		unsubscribe = append(unsubscribe, msg.Symbols...)
	}

	if len(subscribe) > 0 {
		if err := h.registry.Subscribe(id, subscribe); err != nil {
			h.logger.Warn("subscribe failed", slog.String("client", id), slog.String("error", err.Error()))
		}
	}
	if len(unsubscribe) > 0 {
		if err := h.registry.Unsubscribe(id, unsubscribe); err != nil {
			h.logger.Warn("unsubscribe failed", slog.String("client", id), slog.String("error", err.Error()))
		}
	}
}

// client is one websocket connection. It implements broadcast.Client.
type client struct {
	id    string
	owner string
	conn  *websocket.Conn
	send  chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(id, owner string, conn *websocket.Conn) *client {
	return &client{id: id, owner: owner, conn: conn, send: make(chan []byte, sendBufferSize)}
}

func (c *client) ID() string { return c.id }

func (c *client) Owner() string { return c.owner }

// Enqueue queues msg without blocking. It returns false when the buffer is
// full or the client is closed.
func (c *client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump writes queued messages as text frames and pings on an interval.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Best effort: the peer may already be gone.
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
