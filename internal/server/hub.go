package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/vibelab/internal/queue"
)

const (
	wsMaxPayloadBytes = 1 << 16
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// frame is the wire format of every message pushed to event clients.
type frame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Seq     int64  `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// HubConfig configures a Hub.
type HubConfig struct {
	// AllowedOrigins restricts browser origins. Empty allows same-host
	// requests and non-browser clients only; "*" allows everything.
	AllowedOrigins []string

	// Snapshot, if set, is sent to each client when it connects.
	Snapshot func() any

	Logger *slog.Logger
}

// Hub broadcasts scheduler events to connected WebSocket clients. It
// implements queue.EventSink. Clients that fall behind are disconnected
// rather than slowing the scheduler.
type Hub struct {
	config   HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	seq      atomic.Int64

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub.
func NewHub(config HubConfig) *Hub {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		config:  config,
		logger:  logger.With("component", "event-hub"),
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 8192,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("event client connected", "client_id", c.id, "remote", r.RemoteAddr)

	if h.config.Snapshot != nil {
		if data, err := h.encode("snapshot", h.config.Snapshot()); err == nil {
			c.enqueue(data)
		}
	}

	go h.writeLoop(c)
	h.readLoop(c)
	h.remove(c)
}

// Emit implements queue.EventSink.
func (h *Hub) Emit(_ context.Context, e queue.Event) {
	data, err := h.encode(string(e.Type), e)
	if err != nil {
		h.logger.Error("failed to encode event", "error", err)
		return
	}

	h.mu.Lock()
	var slow []*client
	for _, c := range h.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow event client", "client_id", c.id)
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, error) {
	return json.Marshal(frame{
		Type:    "event",
		Event:   event,
		Seq:     h.seq.Add(1),
		Payload: payload,
	})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.cancel()
	_ = c.conn.Close()
}

func (c *client) enqueue(data []byte) bool {
	if c.ctx.Err() != nil {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readLoop discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
