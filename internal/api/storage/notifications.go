package storage

import (
	"context"
	"fmt"

	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/shared/apperror"
)

// ListNotifications returns a user's newest notifications and the unread total
func (s *Storage) ListNotifications(ctx context.Context, tenantID, userID string, limit int) ([]model.Notification, int, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, user_id, title, body, is_read, created_at
		FROM notifications
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	notifications := []model.Notification{}
	if err := s.db.SelectContext(ctx, &notifications, query, tenantID, userID, limit); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	var unread int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM notifications WHERE tenant_id = ? AND user_id = ? AND is_read = ?`)
	if err := s.db.GetContext(ctx, &unread, countQuery, tenantID, userID, false); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	return notifications, unread, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, tenantID, userID, notificationID string) error {
	query := s.db.Rebind(`UPDATE notifications SET is_read = ? WHERE id = ? AND tenant_id = ? AND user_id = ?`)

	result, err := s.db.ExecContext(ctx, query, true, notificationID, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("notification not found")
	}
	return nil
}

func (s *Storage) MarkAllNotificationsRead(ctx context.Context, tenantID, userID string) (int64, error) {
	query := s.db.Rebind(`UPDATE notifications SET is_read = ? WHERE tenant_id = ? AND user_id = ? AND is_read = ?`)

	result, err := s.db.ExecContext(ctx, query, true, tenantID, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}
