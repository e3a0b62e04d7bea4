package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zflow/zflow/shared/logger"
)

type socketServer struct {
	*httptest.Server

	upgrader websocket.Upgrader
	mu       sync.Mutex
	events   []string
	conns    map[string]*websocket.Conn
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()

	s := &socketServer{conns: make(map[string]*websocket.Conn)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) serve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.events = append(s.events, "open:"+token)
	s.conns[token] = ws
	s.mu.Unlock()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	s.events = append(s.events, "close:"+token)
	s.mu.Unlock()
}

func (s *socketServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *socketServer) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *socketServer) count(event string) int {
	n := 0
	for _, e := range s.log() {
		if e == event {
			n++
		}
	}
	return n
}

func (s *socketServer) push(t *testing.T, token, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	s.mu.Lock()
	ws := s.conns[token]
	s.mu.Unlock()
	require.NotNil(t, ws)
	require.NoError(t, ws.WriteJSON(envelope{Event: event, Data: raw}))
}

func (s *socketServer) drop(token string) {
	s.mu.Lock()
	ws := s.conns[token]
	s.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

func newTestChannel(url string, attempts int) *Channel {
	return NewChannel(ChannelOptions{
		URL:               url,
		ReconnectAttempts: attempts,
		ReconnectDelay:    10 * time.Millisecond,
	}, logger.NewDiscard().Logger)
}

func TestChannelConnectReplacesConnection(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 5)
	defer ch.Disconnect()

	a := ch.Connect("A")
	require.Eventually(t, a.Connected, time.Second, 5*time.Millisecond)

	b := ch.Connect("B")

	// A is fully stopped by the time Connect returns
	select {
	case <-a.Done():
	default:
		t.Fatal("previous connection still running")
	}
	assert.False(t, a.Connected())
	assert.Same(t, b, ch.Get())

	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.count("close:A") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.count("open:A"))
	assert.Equal(t, 1, srv.count("open:B"))
	assert.Equal(t, 0, srv.count("close:B"))
}

func TestChannelDisconnect(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 5)

	// no-op without a connection
	ch.Disconnect()
	assert.Nil(t, ch.Get())

	conn := ch.Connect("A")
	require.Eventually(t, conn.Connected, time.Second, 5*time.Millisecond)

	ch.Disconnect()
	assert.Nil(t, ch.Get())
	<-conn.Done()
	require.Eventually(t, func() bool { return srv.count("close:A") == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectionReconnects(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 3)
	defer ch.Disconnect()

	conn := ch.Connect("A")
	require.Eventually(t, conn.Connected, time.Second, 5*time.Millisecond)

	srv.drop("A")

	require.Eventually(t, func() bool { return srv.count("open:A") == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, conn.Connected, time.Second, 5*time.Millisecond)
}

func TestConnectionGivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch := newTestChannel(url, 2)
	conn := ch.Connect("A")

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection kept reconnecting")
	}
	assert.False(t, conn.Connected())
}

func TestConnectionOnAndOff(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 5)
	defer ch.Disconnect()

	conn := ch.Connect("A")
	require.Eventually(t, conn.Connected, time.Second, 5*time.Millisecond)

	got := make(chan string, 4)
	off := conn.On("ping", func(data json.RawMessage) { got <- string(data) })
	assert.Equal(t, 1, conn.Listeners("ping"))

	srv.push(t, "A", "ping", map[string]int{"n": 1})
	select {
	case data := <-got:
		assert.JSONEq(t, `{"n":1}`, data)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	off()
	off()
	assert.Equal(t, 0, conn.Listeners("ping"))
}

func TestBindStores(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 5)
	defer ch.Disconnect()

	conn := ch.Connect("A")
	require.Eventually(t, conn.Connected, time.Second, 5*time.Millisecond)

	stores := NewStores()
	unbind := BindStores(conn, stores, logger.NewDiscard().Logger)

	srv.push(t, "A", EventNotificationCreated, Notification{ID: "n1", Title: "Failed"})
	srv.push(t, "A", EventTicketUpdated, TicketUpdate{TicketID: "tk1", Status: "closed"})
	srv.push(t, "A", EventMessageCreated, MessageEvent{TicketID: "tk1", Message: Message{ID: "m1", Body: "hi"}})

	require.Eventually(t, func() bool {
		_, ok := stores.Tickets.Get("tk1")
		return ok && len(stores.Messages.ForTicket("tk1")) == 1 && len(stores.Notifications.All()) == 1
	}, time.Second, 5*time.Millisecond)

	ticket, _ := stores.Tickets.Get("tk1")
	assert.Equal(t, "closed", ticket.Status)
	assert.Equal(t, 1, stores.Notifications.Unread())

	unbind()
	for _, event := range []string{EventNotificationCreated, EventTicketUpdated, EventMessageCreated} {
		assert.Equal(t, 0, conn.Listeners(event), event)
	}
}

func TestChannelSubscriptionsSurviveConnect(t *testing.T) {
	srv := newSocketServer(t)
	ch := newTestChannel(srv.url(), 5)
	defer ch.Disconnect()

	stores := NewStores()
	unbind := BindStores(ch, stores, logger.NewDiscard().Logger)
	defer unbind()

	got := make(chan string, 4)
	off := ch.On("ping", func(data json.RawMessage) { got <- string(data) })
	defer off()

	ch.Connect("A")
	require.Eventually(t, func() bool { return srv.count("open:A") == 1 }, time.Second, 5*time.Millisecond)
	ch.Connect("B")
	require.Eventually(t, func() bool { return srv.count("open:B") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ch.Listeners("ping"))

	srv.push(t, "B", "ping", map[string]int{"n": 2})
	srv.push(t, "B", EventTicketUpdated, TicketUpdate{TicketID: "tk1", Status: "pending"})

	select {
	case data := <-got:
		assert.JSONEq(t, `{"n":2}`, data)
	case <-time.After(time.Second):
		t.Fatal("event not delivered after reconnect")
	}
	require.Eventually(t, func() bool {
		ticket, ok := stores.Tickets.Get("tk1")
		return ok && ticket.Status == "pending"
	}, time.Second, 5*time.Millisecond)
}

func TestChannelHandlerMayReplaceConnection(t *testing.T) {
	tests := []struct {
		name   string
		action func(ch *Channel)
	}{
		{name: "connect", action: func(ch *Channel) { ch.Connect("B") }},
		{name: "disconnect", action: func(ch *Channel) { ch.Disconnect() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newSocketServer(t)
			ch := newTestChannel(srv.url(), 5)
			defer ch.Disconnect()

			finished := make(chan struct{})
			off := ch.On("rotate", func(json.RawMessage) {
				tt.action(ch)
				close(finished)
			})
			defer off()

			first := ch.Connect("A")
			require.Eventually(t, func() bool { return srv.count("open:A") == 1 }, time.Second, 5*time.Millisecond)
			srv.push(t, "A", "rotate", nil)

			select {
			case <-finished:
			case <-time.After(2 * time.Second):
				t.Fatal("handler blocked replacing its own connection")
			}
			<-first.Done()
			assert.NotSame(t, first, ch.Get())
		})
	}
}
