package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zflow/zflow/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetOutboundMessage loads a message with the phone of its ticket's contact
func (s *Storage) GetOutboundMessage(ctx context.Context, tenantID, messageID string) (*domain.OutboundMessage, error) {
	query := s.db.Rebind(`
		SELECT m.id, m.tenant_id, m.ticket_id, m.body, m.media_url, m.media_type, m.status,
		       c.phone, t.user_id
		FROM messages m
		JOIN tickets t ON t.id = m.ticket_id
		JOIN contacts c ON c.id = t.contact_id
		WHERE m.id = ? AND m.tenant_id = ?
	`)

	var msg domain.OutboundMessage
	if err := s.db.GetContext(ctx, &msg, query, messageID, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// MarkMessageSent records the provider id of a delivered message
func (s *Storage) MarkMessageSent(ctx context.Context, messageID, externalID string) error {
	query := s.db.Rebind(`UPDATE messages SET status = ?, external_id = ? WHERE id = ?`)

	if _, err := s.db.ExecContext(ctx, query, domain.MessageStatusSent, externalID, messageID); err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

// MarkMessageFailed flags a message whose delivery gave up
func (s *Storage) MarkMessageFailed(ctx context.Context, messageID string) error {
	query := s.db.Rebind(`UPDATE messages SET status = ? WHERE id = ?`)

	if _, err := s.db.ExecContext(ctx, query, domain.MessageStatusFailed, messageID); err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

// GetCampaign loads a tenant's campaign
func (s *Storage) GetCampaign(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, name, message, media_url, status
		FROM campaigns
		WHERE id = ? AND tenant_id = ?
	`)

	var campaign domain.Campaign
	if err := s.db.GetContext(ctx, &campaign, query, campaignID, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// SetCampaignStatus updates a campaign's status
func (s *Storage) SetCampaignStatus(ctx context.Context, campaignID, status string) error {
	query := s.db.Rebind(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`)

	if _, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), campaignID); err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	s.logger.Info("Campaign status updated",
		slog.String("campaign_id", campaignID),
		slog.String("status", status),
	)
	return nil
}

// PendingRecipientIDs lists the campaign contacts not yet attempted
func (s *Storage) PendingRecipientIDs(ctx context.Context, campaignID string) ([]string, error) {
	query := s.db.Rebind(`
		SELECT id FROM campaign_contacts
		WHERE campaign_id = ? AND status = ?
		ORDER BY id
	`)

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, campaignID, domain.RecipientStatusPending); err != nil {
		return nil, fmt.Errorf("failed to list campaign recipients: %w", err)
	}
	return ids, nil
}

// PendingRecipients loads the still-pending recipients among ids
func (s *Storage) PendingRecipients(ctx context.Context, campaignID string, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT cc.id, cc.contact_id, c.phone
		FROM campaign_contacts cc
		JOIN contacts c ON c.id = cc.contact_id
		WHERE cc.campaign_id = ? AND cc.status = ? AND cc.id IN (?)
		ORDER BY cc.id
	`, campaignID, domain.RecipientStatusPending, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build recipient query: %w", err)
	}

	var recipients []domain.Recipient
	if err := s.db.SelectContext(ctx, &recipients, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load campaign recipients: %w", err)
	}
	return recipients, nil
}

// MarkRecipient records the outcome of sending to one recipient
func (s *Storage) MarkRecipient(ctx context.Context, recipientID, status, errMsg string) error {
	query := s.db.Rebind(`UPDATE campaign_contacts SET status = ?, error = ?, sent_at = ? WHERE id = ?`)

	var sentAt *time.Time
	if status == domain.RecipientStatusSent {
		now := time.Now().UTC()
		sentAt = &now
	}

	if _, err := s.db.ExecContext(ctx, query, status, errMsg, sentAt, recipientID); err != nil {
		return fmt.Errorf("failed to update campaign recipient: %w", err)
	}
	return nil
}

// CountPendingRecipients returns how many recipients of a campaign are still pending
func (s *Storage) CountPendingRecipients(ctx context.Context, campaignID string) (int, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM campaign_contacts WHERE campaign_id = ? AND status = ?`)

	var count int
	if err := s.db.GetContext(ctx, &count, query, campaignID, domain.RecipientStatusPending); err != nil {
		return 0, fmt.Errorf("failed to count campaign recipients: %w", err)
	}
	return count, nil
}

// CloseStaleTickets closes every non-closed ticket untouched since before
func (s *Storage) CloseStaleTickets(ctx context.Context, before time.Time) ([]domain.StaleTicket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stale []domain.StaleTicket
	err = tx.SelectContext(ctx, &stale, tx.Rebind(`
		SELECT id, tenant_id FROM tickets
		WHERE status <> ? AND updated_at < ?
		ORDER BY id
	`), domain.TicketStatusClosed, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find stale tickets: %w", err)
	}

	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, len(stale))
	for i, t := range stale {
		ids[i] = t.ID
	}

	query, args, err := sqlx.In(`UPDATE tickets SET status = ?, updated_at = ? WHERE id IN (?)`,
		domain.TicketStatusClosed, time.Now().UTC(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build cleanup query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to close stale tickets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	s.logger.Info("Stale tickets closed", slog.Int("count", len(stale)))
	return stale, nil
}

// CreateNotification stores a notification, filling in its id and timestamp
func (s *Storage) CreateNotification(ctx context.Context, n *domain.Notification) error {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	n.IsRead = false

	query := s.db.Rebind(`
		INSERT INTO notifications (id, tenant_id, user_id, title, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	if _, err := s.db.ExecContext(ctx, query, n.ID, n.TenantID, n.UserID, n.Title, n.Body, n.IsRead, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
