package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendBuffer = 64

// HubOptions tunes client connections
type HubOptions struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Hub tracks the WebSocket clients of every tenant
type Hub struct {
	logger   *slog.Logger
	opts     HubOptions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	tenants map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	conn     *websocket.Conn
	tenantID string
	userID   string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub
func NewHub(logger *slog.Logger, opts HubOptions) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}

	h := &Hub{
		logger:  logger,
		opts:    opts,
		tenants: make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve upgrades the request and blocks until the client goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantID, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		conn:     conn,
		tenantID: tenantID,
		userID:   userID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	if !h.register(c) {
		conn.Close()
		return nil
	}
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	clients, ok := h.tenants[c.tenantID]
	if !ok {
		clients = make(map[*client]struct{})
		h.tenants[c.tenantID] = clients
	}
	clients[c] = struct{}{}

	h.logger.Info("Realtime client connected",
		slog.String("tenant_id", c.tenantID),
		slog.String("user_id", c.userID),
		slog.Int("tenant_clients", len(clients)),
	)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if clients, ok := h.tenants[c.tenantID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.tenants, c.tenantID)
		}
	}
	h.mu.Unlock()

	c.stop()
	c.conn.Close()

	h.logger.Info("Realtime client disconnected",
		slog.String("tenant_id", c.tenantID),
		slog.String("user_id", c.userID),
	)
}

// readPump drains client frames; clients only listen
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.opts.WriteTimeout))
			c.conn.Close()
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("Realtime write failed",
					slog.String("tenant_id", c.tenantID),
					slog.Any("error", err),
				)
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Deliver pushes event to the matching clients. Slow clients miss the event.
func (h *Hub) Deliver(event Event) {
	msg, err := event.envelope()
	if err != nil {
		h.logger.Error("Failed to encode realtime event",
			slog.String("event", event.Name),
			slog.Any("error", err),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.tenants[event.TenantID] {
		if event.UserID != "" && c.userID != event.UserID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Realtime client buffer full, dropping event",
				slog.String("tenant_id", c.tenantID),
				slog.String("user_id", c.userID),
				slog.String("event", event.Name),
			)
		}
	}
}

// Count returns the number of connected clients of a tenant
func (h *Hub) Count(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var clients []*client
	for _, tenant := range h.tenants {
		for c := range tenant {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}
