package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/shared/apperror"
)

type TicketFilter struct {
	TenantID   string
	Status     string
	Search     string
	PageNumber int // 1-based
	Limit      int
}

const ticketColumns = `
	t.id, t.tenant_id, t.contact_id, c.name AS contact_name, c.phone AS contact_phone,
	t.user_id, t.status, t.last_message, t.unread_count, t.created_at, t.updated_at`

func ticketWhere(filter TicketFilter) (string, []any) {
	where := ` WHERE t.tenant_id = ?`
	args := []any{filter.TenantID}

	if filter.Status != "" {
		where += ` AND t.status = ?`
		args = append(args, filter.Status)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		where += ` AND (LOWER(c.name) LIKE ? OR c.phone LIKE ? OR LOWER(t.last_message) LIKE ?)`
		args = append(args, like, like, like)
	}

	return where, args
}

// ListTickets returns one page of tickets, most recently updated first, and the total match count
func (s *Storage) ListTickets(ctx context.Context, filter TicketFilter) ([]model.Ticket, int, error) {
	where, args := ticketWhere(filter)
	from := ` FROM tickets t JOIN contacts c ON c.id = t.contact_id`

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*)`+from+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	query := `SELECT` + ticketColumns + from + where + ` ORDER BY t.updated_at DESC, t.id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, (filter.PageNumber-1)*filter.Limit)

	tickets := []model.Ticket{}
	if err := s.db.SelectContext(ctx, &tickets, s.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}

	return tickets, count, nil
}

func (s *Storage) GetTicket(ctx context.Context, tenantID, ticketID string) (*model.Ticket, error) {
	query := s.db.Rebind(`SELECT` + ticketColumns + `
		FROM tickets t JOIN contacts c ON c.id = t.contact_id
		WHERE t.id = ? AND t.tenant_id = ?`)

	var ticket model.Ticket
	if err := s.db.GetContext(ctx, &ticket, query, ticketID, tenantID); err != nil {
		return nil, notFoundOr(err, "ticket")
	}
	return &ticket, nil
}

// UpdateTicketStatus sets the status of a tenant's ticket
func (s *Storage) UpdateTicketStatus(ctx context.Context, tenantID, ticketID, status string) error {
	query := s.db.Rebind(`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`)

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), ticketID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("ticket not found")
	}
	return nil
}

type MessageCursor struct {
	CreatedAt time.Time
	MessageID string
}

type MessageFilter struct {
	TenantID string
	TicketID string
	Limit    int
	Cursor   *MessageCursor
}

// ListMessages returns up to Limit+1 messages, newest first, so callers can tell whether more exist
func (s *Storage) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	query := `
		SELECT id, tenant_id, ticket_id, body, from_me, media_url, media_type, status, external_id, created_at
		FROM messages
		WHERE tenant_id = ? AND ticket_id = ?`
	args := []any{filter.TenantID, filter.TicketID}

	if filter.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.MessageID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit+1)

	messages := []model.Message{}
	if err := s.db.SelectContext(ctx, &messages, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// CreateMessage stores an outbound message and bumps its ticket in one transaction
func (s *Storage) CreateMessage(ctx context.Context, msg *model.Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO messages (id, tenant_id, ticket_id, body, from_me, media_url, media_type, status, external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.TenantID, msg.TicketID, msg.Body, msg.FromMe, msg.MediaURL, msg.MediaType, msg.Status, msg.ExternalID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	preview := msg.Body
	if preview == "" {
		preview = "[" + msg.MediaType + "]"
	}
	if len(preview) > 1024 {
		preview = preview[:1024]
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET last_message = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`),
		preview, msg.CreatedAt, msg.TicketID, msg.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (s *Storage) SetMessageStatus(ctx context.Context, tenantID, messageID, status string) error {
	query := s.db.Rebind(`UPDATE messages SET status = ? WHERE id = ? AND tenant_id = ?`)

	if _, err := s.db.ExecContext(ctx, query, status, messageID, tenantID); err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}
