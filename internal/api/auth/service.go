// Package auth issues and verifies the opaque session tokens of the API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/shared/apperror"
)

const tokenBytes = 32

var errInvalidCredentials = apperror.Authentication("invalid email or password")

// Principal identifies the caller of an authenticated request
type Principal struct {
	SessionID string
	UserID    string
	TenantID  string
	Role      string
}

// Tokens is an access/refresh pair
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

type Service struct {
	storage *storage.Storage
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new auth service
func NewService(storage *storage.Storage, config Config, logger *slog.Logger) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		storage: storage,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HashPassword hashes a password with the configured bcrypt cost
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks the credentials and opens a new session
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, Tokens, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, Tokens{}, apperror.Validation("email", "email is required")
	}
	if password == "" {
		return nil, Tokens{}, apperror.Validation("password", "password is required")
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, Tokens{}, errInvalidCredentials
		}
		return nil, Tokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, Tokens{}, errInvalidCredentials
	}

	tokens, err := newTokens()
	if err != nil {
		return nil, Tokens{}, err
	}

	now := s.now()
	session := &model.Session{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		TenantID:         user.TenantID,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		AccessExpiresAt:  now.Add(s.config.AccessTTL),
		RefreshExpiresAt: now.Add(s.config.RefreshTTL),
		CreatedAt:        now,
	}
	if err := s.storage.CreateSession(ctx, session); err != nil {
		return nil, Tokens{}, err
	}

	s.logger.Info("User logged in",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
	)

	return user, tokens, nil
}

// Authenticate resolves an access token into its principal
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, apperror.Authentication("missing access token")
	}

	session, err := s.storage.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.Authentication("invalid access token")
		}
		return nil, err
	}

	if !s.now().Before(session.AccessExpiresAt) {
		return nil, apperror.Authentication("access token expired")
	}

	user, err := s.storage.GetUserByID(ctx, session.TenantID, session.UserID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.Authentication("invalid access token")
		}
		return nil, err
	}

	return &Principal{
		SessionID: session.ID,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Role:      user.Role,
	}, nil
}

// Refresh rotates both tokens of the session owning refreshToken
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, apperror.Validation("refreshToken", "refreshToken is required")
	}

	session, err := s.storage.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if apperror.IsNotFound(err) {
			return Tokens{}, apperror.Authentication("invalid refresh token")
		}
		return Tokens{}, err
	}

	now := s.now()
	if !now.Before(session.RefreshExpiresAt) {
		if err := s.storage.DeleteSession(ctx, session.ID); err != nil {
			s.logger.Warn("Failed to delete expired session", slog.Any("error", err))
		}
		return Tokens{}, apperror.Authentication("refresh token expired")
	}

	tokens, err := newTokens()
	if err != nil {
		return Tokens{}, err
	}

	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.AccessExpiresAt = now.Add(s.config.AccessTTL)
	session.RefreshExpiresAt = now.Add(s.config.RefreshTTL)

	rotated, err := s.storage.RotateSession(ctx, session, refreshToken)
	if err != nil {
		return Tokens{}, err
	}
	if !rotated {
		return Tokens{}, apperror.Authentication("invalid refresh token")
	}

	return tokens, nil
}

// Logout ends the session
func (s *Service) Logout(ctx context.Context, principal *Principal) error {
	if err := s.storage.DeleteSession(ctx, principal.SessionID); err != nil {
		return err
	}

	s.logger.Info("User logged out", slog.String("user_id", principal.UserID))
	return nil
}

func newTokens() (Tokens, error) {
	access, err := randomToken()
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := randomToken()
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
