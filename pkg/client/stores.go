package client

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// NotificationStore holds notifications, newest first
type NotificationStore struct {
	mu    sync.RWMutex
	items []Notification
}

func (s *NotificationStore) Add(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]Notification{n}, s.items...)
}

// Replace swaps in a freshly fetched list
func (s *NotificationStore) Replace(items []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]Notification(nil), items...)
}

func (s *NotificationStore) All() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification(nil), s.items...)
}

func (s *NotificationStore) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// TicketStore indexes tickets by id
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[string]Ticket
}

func (s *TicketStore) Put(tickets ...Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickets == nil {
		s.tickets = make(map[string]Ticket)
	}
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
}

// Apply records a status change; unknown tickets are kept as stubs
func (s *TicketStore) Apply(u TicketUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickets == nil {
		s.tickets = make(map[string]Ticket)
	}
	t := s.tickets[u.TicketID]
	t.ID = u.TicketID
	t.Status = u.Status
	s.tickets[u.TicketID] = t
}

func (s *TicketStore) Get(id string) (Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	return t, ok
}

// MessageStore keeps the messages of each ticket in arrival order
type MessageStore struct {
	mu       sync.RWMutex
	byTicket map[string][]Message
}

func (s *MessageStore) Append(ticketID string, m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTicket == nil {
		s.byTicket = make(map[string][]Message)
	}
	for _, existing := range s.byTicket[ticketID] {
		if existing.ID == m.ID {
			return
		}
	}
	s.byTicket[ticketID] = append(s.byTicket[ticketID], m)
}

func (s *MessageStore) ForTicket(ticketID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.byTicket[ticketID]...)
}

// Stores groups the client-side state fed by realtime events
type Stores struct {
	Notifications *NotificationStore
	Tickets       *TicketStore
	Messages      *MessageStore
}

// NewStores creates empty stores
func NewStores() *Stores {
	return &Stores{
		Notifications: &NotificationStore{},
		Tickets:       &TicketStore{},
		Messages:      &MessageStore{},
	}
}

// Subscriber registers event handlers. Both Channel and Connection implement
// it; subscriptions made on either survive reconnects.
type Subscriber interface {
	On(event string, fn func(json.RawMessage)) (off func())
}

// BindStores forwards the three realtime events into stores. The returned
// function removes all three subscriptions.
func BindStores(sub Subscriber, stores *Stores, logger *slog.Logger) (unbind func()) {
	decode := func(event string, data json.RawMessage, v any) bool {
		if err := json.Unmarshal(data, v); err != nil {
			logger.Warn("Malformed realtime event", slog.String("event", event), slog.Any("error", err))
			return false
		}
		return true
	}

	offs := []func(){
		sub.On(EventNotificationCreated, func(data json.RawMessage) {
			var n Notification
			if decode(EventNotificationCreated, data, &n) {
				stores.Notifications.Add(n)
			}
		}),
		sub.On(EventTicketUpdated, func(data json.RawMessage) {
			var u TicketUpdate
			if decode(EventTicketUpdated, data, &u) {
				stores.Tickets.Apply(u)
			}
		}),
		sub.On(EventMessageCreated, func(data json.RawMessage) {
			var m MessageEvent
			if decode(EventMessageCreated, data, &m) {
				stores.Messages.Append(m.TicketID, m.Message)
			}
		}),
	}

	return func() {
		for _, off := range offs {
			off()
		}
	}
}
