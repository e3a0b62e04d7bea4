package domain

import "time"

// OutboundMessage is a stored message joined with its ticket and contact
type OutboundMessage struct {
	ID        string  `db:"id"`
	TenantID  string  `db:"tenant_id"`
	TicketID  string  `db:"ticket_id"`
	Body      string  `db:"body"`
	MediaURL  string  `db:"media_url"`
	MediaType string  `db:"media_type"`
	Status    string  `db:"status"`
	Phone     string  `db:"phone"`
	UserID    *string `db:"user_id"`
}

// Campaign is the part of a campaign the worker needs
type Campaign struct {
	ID       string `db:"id"`
	TenantID string `db:"tenant_id"`
	Name     string `db:"name"`
	Message  string `db:"message"`
	MediaURL string `db:"media_url"`
	Status   string `db:"status"`
}

// Recipient is a pending campaign contact
type Recipient struct {
	ID        string `db:"id"`
	ContactID string `db:"contact_id"`
	Phone     string `db:"phone"`
}

// StaleTicket is a ticket closed by the cleanup run
type StaleTicket struct {
	ID       string `db:"id"`
	TenantID string `db:"tenant_id"`
}

// Notification is created for a user when a background action fails
type Notification struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"-"`
	UserID    string    `db:"user_id" json:"userId"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	IsRead    bool      `db:"is_read" json:"isRead"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
