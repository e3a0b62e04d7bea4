package model

import "time"

type Tenant struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type User struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

type Session struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	TenantID         string    `db:"tenant_id"`
	AccessToken      string    `db:"access_token"`
	RefreshToken     string    `db:"refresh_token"`
	AccessExpiresAt  time.Time `db:"access_expires_at"`
	RefreshExpiresAt time.Time `db:"refresh_expires_at"`
	CreatedAt        time.Time `db:"created_at"`
}

type Contact struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// Ticket is a ticket row joined with its contact
type Ticket struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	ContactID    string    `db:"contact_id"`
	ContactName  string    `db:"contact_name"`
	ContactPhone string    `db:"contact_phone"`
	UserID       *string   `db:"user_id"`
	Status       string    `db:"status"`
	LastMessage  string    `db:"last_message"`
	UnreadCount  int       `db:"unread_count"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type Message struct {
	ID         string    `db:"id"`
	TenantID   string    `db:"tenant_id"`
	TicketID   string    `db:"ticket_id"`
	Body       string    `db:"body"`
	FromMe     bool      `db:"from_me"`
	MediaURL   string    `db:"media_url"`
	MediaType  string    `db:"media_type"`
	Status     string    `db:"status"`
	ExternalID string    `db:"external_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type Campaign struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Message   string    `db:"message"`
	MediaURL  string    `db:"media_url"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Opportunity is an opportunity row joined with its stage and contact
type Opportunity struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	ContactID   string    `db:"contact_id"`
	ContactName string    `db:"contact_name"`
	StageID     string    `db:"stage_id"`
	StageName   string    `db:"stage_name"`
	Pipeline    string    `db:"pipeline"`
	Title       string    `db:"title"`
	AmountCents int64     `db:"amount_cents"`
	CreatedAt   time.Time `db:"created_at"`
}

type Notification struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}
