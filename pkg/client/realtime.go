package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Realtime event names
const (
	EventNotificationCreated = "notification:created"
	EventTicketUpdated       = "ticket:updated"
	EventMessageCreated      = "message:created"
)

// ChannelOptions tunes the realtime connection
type ChannelOptions struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// dispatchBuffer bounds the events read but not yet handed to listeners
const dispatchBuffer = 64

// Channel owns at most one realtime connection at a time. Subscriptions are
// held by the channel, so they outlive reconnects with a new token.
type Channel struct {
	opts      ChannelOptions
	logger    *slog.Logger
	listeners *listeners

	mu      sync.Mutex
	current *Connection
}

// NewChannel creates a channel with no connection
func NewChannel(opts ChannelOptions, logger *slog.Logger) *Channel {
	return &Channel{opts: opts.withDefaults(), logger: logger, listeners: newListeners()}
}

// Connect replaces any existing connection with one authenticated by token.
// The old connection is fully closed before the new one dials. It is safe to
// call from an event handler.
func (ch *Channel) Connect(token string) *Connection {
	conn := newConnection(ch.opts, token, ch.listeners, ch.logger)

	ch.mu.Lock()
	old := ch.current
	ch.current = conn
	ch.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go conn.run()
	return conn
}

// Disconnect closes the current connection, if any
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	old := ch.current
	ch.current = nil
	ch.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Get returns the current connection or nil
func (ch *Channel) Get() *Connection {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.current
}

// On subscribes fn to an event on every present and future connection.
// The returned function removes the subscription.
func (ch *Channel) On(event string, fn func(json.RawMessage)) (off func()) {
	return ch.listeners.on(event, fn)
}

// Listeners returns the number of subscriptions for event
func (ch *Channel) Listeners(event string) int {
	return ch.listeners.count(event)
}

// listeners is the subscription registry shared by a channel's connections
type listeners struct {
	mu       sync.Mutex
	handlers map[string]map[uint64]func(json.RawMessage)
	nextID   uint64
}

func newListeners() *listeners {
	return &listeners{handlers: make(map[string]map[uint64]func(json.RawMessage))}
}

func (l *listeners) on(event string, fn func(json.RawMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[uint64]func(json.RawMessage))
	}
	l.handlers[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.handlers[event], id)
		})
	}
}

func (l *listeners) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}

func (l *listeners) forEvent(event string) []func(json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fns := make([]func(json.RawMessage), 0, len(l.handlers[event]))
	for _, fn := range l.handlers[event] {
		fns = append(fns, fn)
	}
	return fns
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Connection is a self-reconnecting WebSocket connection to the hub.
// Handlers run on a dispatch goroutine of their own, never on the read loop.
type Connection struct {
	opts      ChannelOptions
	token     string
	logger    *slog.Logger
	listeners *listeners

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	events chan envelope

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
}

func newConnection(opts ChannelOptions, token string, l *listeners, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:      opts,
		token:     token,
		logger:    logger,
		listeners: l,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		events:    make(chan envelope, dispatchBuffer),
	}
}

// On subscribes fn to an event. Subscriptions belong to the owning channel
// and survive reconnects. The returned function removes the subscription.
func (c *Connection) On(event string, fn func(json.RawMessage)) (off func()) {
	return c.listeners.on(event, fn)
}

// Listeners returns the number of subscriptions for event
func (c *Connection) Listeners(event string) int {
	return c.listeners.count(event)
}

// Connected reports whether the socket is currently up
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed once the connection has stopped for good
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close stops reconnecting, closes the socket and waits for the read loop to
// exit. Events not yet dispatched are dropped.
func (c *Connection) Close() {
	c.cancel()

	c.mu.Lock()
	if c.ws != nil {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	}
	c.mu.Unlock()

	<-c.done
}

func (c *Connection) run() {
	defer close(c.done)
	defer c.cancel()

	go c.dispatchLoop()

	failures := 0
	for {
		connected, err := c.session()
		if c.ctx.Err() != nil {
			return
		}

		if connected {
			failures = 0
		}
		failures++
		if failures > c.opts.ReconnectAttempts {
			c.logger.Error("Realtime reconnect attempts exhausted",
				slog.Int("attempts", c.opts.ReconnectAttempts),
				slog.Any("error", err),
			)
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session dials once and reads until the socket drops
func (c *Connection) session() (bool, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, _, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, header)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Warn("Realtime connect_error", slog.Any("error", err))
		}
		return false, err
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		ws.Close()
		return false, c.ctx.Err()
	}
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Realtime connect", slog.String("url", c.opts.URL))

	err = c.read(ws)

	c.mu.Lock()
	c.ws = nil
	c.connected = false
	c.mu.Unlock()

	c.logger.Info("Realtime disconnect", slog.Any("reason", err))
	return true, err
}

func (c *Connection) read(ws *websocket.Conn) error {
	defer ws.Close()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("Dropping malformed realtime frame", slog.Any("error", err))
			continue
		}

		select {
		case c.events <- env:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// dispatchLoop hands events to listeners until the connection stops. A
// handler may call back into the session or the channel.
func (c *Connection) dispatchLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.events:
			for _, fn := range c.listeners.forEvent(env.Event) {
				fn(env.Data)
			}
		}
	}
}
