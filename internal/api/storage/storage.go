package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/shared/apperror"
	"github.com/zflow/zflow/shared/database"
)

// Storage handles all database operations for the API service. Every entity
// query is scoped by tenant.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a new storage instance
func NewStorage(client *database.Client) *Storage {
	return &Storage{
		db: client.GetDB(),
	}
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound(what + " not found")
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func (s *Storage) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	query := s.db.Rebind(`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query, tenant.ID, tenant.Name, tenant.CreatedAt); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	query := s.db.Rebind(`
		INSERT INTO users (id, tenant_id, name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.TenantID, user.Name, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, name, email, password_hash, role, created_at
		FROM users WHERE email = ?
	`)

	var user model.User
	if err := s.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, notFoundOr(err, "user")
	}
	return &user, nil
}

func (s *Storage) GetUserByID(ctx context.Context, tenantID, userID string) (*model.User, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, name, email, password_hash, role, created_at
		FROM users WHERE id = ? AND tenant_id = ?
	`)

	var user model.User
	if err := s.db.GetContext(ctx, &user, query, userID, tenantID); err != nil {
		return nil, notFoundOr(err, "user")
	}
	return &user, nil
}

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	query := s.db.Rebind(`
		INSERT INTO auth_sessions (
			id, user_id, tenant_id, access_token, refresh_token,
			access_expires_at, refresh_expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TenantID, session.AccessToken, session.RefreshToken,
		session.AccessExpiresAt, session.RefreshExpiresAt, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, tenant_id, access_token, refresh_token, access_expires_at, refresh_expires_at, created_at`

func (s *Storage) GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error) {
	query := s.db.Rebind(`SELECT ` + sessionColumns + ` FROM auth_sessions WHERE access_token = ?`)

	var session model.Session
	if err := s.db.GetContext(ctx, &session, query, token); err != nil {
		return nil, notFoundOr(err, "session")
	}
	return &session, nil
}

func (s *Storage) GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	query := s.db.Rebind(`SELECT ` + sessionColumns + ` FROM auth_sessions WHERE refresh_token = ?`)

	var session model.Session
	if err := s.db.GetContext(ctx, &session, query, token); err != nil {
		return nil, notFoundOr(err, "session")
	}
	return &session, nil
}

// RotateSession replaces both tokens, provided oldRefresh is still current.
// It reports false when another refresh won the race.
func (s *Storage) RotateSession(ctx context.Context, session *model.Session, oldRefresh string) (bool, error) {
	query := s.db.Rebind(`
		UPDATE auth_sessions
		SET access_token = ?, refresh_token = ?, access_expires_at = ?, refresh_expires_at = ?
		WHERE id = ? AND refresh_token = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		session.AccessToken, session.RefreshToken, session.AccessExpiresAt, session.RefreshExpiresAt,
		session.ID, oldRefresh)
	if err != nil {
		return false, fmt.Errorf("failed to rotate session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *Storage) DeleteSession(ctx context.Context, sessionID string) error {
	query := s.db.Rebind(`DELETE FROM auth_sessions WHERE id = ?`)

	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions drops sessions whose refresh token has expired
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM auth_sessions WHERE refresh_expires_at < ?`)

	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
