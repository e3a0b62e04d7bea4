// Package realtime pushes server events to connected WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event names pushed to clients
const (
	EventNotificationCreated = "notification:created"
	EventTicketUpdated       = "ticket:updated"
	EventMessageCreated      = "message:created"
)

// Event is routed to every client of TenantID, or only to UserID's clients when set
type Event struct {
	Name     string          `json:"event"`
	TenantID string          `json:"tenantId"`
	UserID   string          `json:"userId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// Envelope is the wire frame a client receives
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEvent encodes data into a tenant-wide event
func NewEvent(name, tenantID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	return Event{Name: name, TenantID: tenantID, Data: raw}, nil
}

// ForUser narrows the event to one user's connections
func (e Event) ForUser(userID string) Event {
	e.UserID = userID
	return e
}

func (e Event) envelope() ([]byte, error) {
	return json.Marshal(Envelope{Event: e.Name, Data: e.Data})
}

// Publisher emits events towards connected clients
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emit builds and publishes an event in one call
func Emit(ctx context.Context, p Publisher, name, tenantID string, data any) error {
	event, err := NewEvent(name, tenantID, data)
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// TicketUpdated is the payload of ticket:updated
type TicketUpdated struct {
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
}

// MessageCreated is the payload of message:created
type MessageCreated struct {
	TicketID string `json:"ticketId"`
	Message  any    `json:"message"`
}
