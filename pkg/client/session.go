package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/zflow/zflow/shared/apperror"
)

// State of the session
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Session holds the credentials of the signed-in user in memory and in
// durable storage, and owns the realtime connection while authenticated.
type Session struct {
	storage Storage
	http    *http.Client
	baseURL string
	channel *Channel
	logger  *slog.Logger

	mu    sync.RWMutex
	state State
	token string
	user  *User
}

func newSession(storage Storage, httpClient *http.Client, baseURL string, channel *Channel, logger *slog.Logger) *Session {
	return &Session{
		storage: storage,
		http:    httpClient,
		baseURL: baseURL,
		channel: channel,
		logger:  logger,
	}
}

// State returns the current authentication state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User returns the signed-in user or nil
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the in-memory access token
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// Login exchanges credentials for a session. When the request fails the
// previous session, if any, is kept as it was; when the new credentials
// cannot be persisted the session is dropped entirely.
func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	s.mu.Lock()
	if s.state == StateAuthenticating {
		s.mu.Unlock()
		return nil, apperror.Validation("", "login already in progress")
	}
	prevState, prevUser := s.state, s.user
	s.state = StateAuthenticating
	s.mu.Unlock()

	resp, err := s.login(ctx, email, password)
	if err != nil {
		s.restore(prevState, prevUser)
		return nil, err
	}
	if err := s.persist(resp); err != nil {
		s.reset()
		return nil, err
	}

	user := resp.User
	s.mu.Lock()
	s.state = StateAuthenticated
	s.token = resp.Token
	s.user = &user
	s.mu.Unlock()

	s.channel.Connect(resp.Token)

	s.logger.Info("Signed in", slog.String("user_id", user.ID))
	return &user, nil
}

// restore puts back the state a failed login started from. The token is
// re-read from storage since a refresh may have rotated it meanwhile. A
// session cleared during the attempt stays cleared.
func (s *Session) restore(state State, user *User) {
	token, ok, err := s.storage.Get(KeyToken)
	if err != nil || !ok {
		token = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticating {
		return
	}
	if state == StateAuthenticated && token == "" {
		state, user = StateAnonymous, nil
	}
	s.state = state
	s.user = user
	if state == StateAuthenticated {
		s.token = token
	} else {
		s.token = ""
	}
}

func (s *Session) login(ctx context.Context, email, password string) (*loginResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apperror.Unexpected("login request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.Unexpected("malformed login response", err)
	}
	if err := validate.Struct(&out.User); err != nil {
		return nil, apperror.Unexpected("malformed login response", err)
	}
	return &out, nil
}

func (s *Session) persist(resp *loginResponse) error {
	raw, err := encodeUser(&resp.User)
	if err != nil {
		return err
	}
	for _, kv := range [][2]string{
		{KeyToken, resp.Token},
		{KeyRefreshToken, resp.RefreshToken},
		{KeyUser, raw},
	} {
		if err := s.storage.Set(kv[0], kv[1]); err != nil {
			if clearErr := clearCredentials(s.storage); clearErr != nil {
				s.logger.Error("Failed to clear credentials", slog.Any("error", clearErr))
			}
			return apperror.Unexpected("failed to persist credentials", err)
		}
	}
	return nil
}

// Logout invalidates the session server-side when possible, then clears
// every trace of it locally.
func (s *Session) Logout(ctx context.Context) {
	token := s.Token()
	if token == "" {
		token, _, _ = s.storage.Get(KeyToken)
	}

	if token != "" {
		if err := s.logout(ctx, token); err != nil {
			s.logger.Warn("Server-side logout failed", slog.Any("error", err))
		}
	}

	if err := clearCredentials(s.storage); err != nil {
		s.logger.Error("Failed to clear credentials", slog.Any("error", err))
	}
	s.reset()
}

func (s *Session) logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/logout", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	resp.Body.Close()
	return nil
}

// Initialize restores a persisted session. Missing or malformed data leaves
// the session anonymous; malformed data is also wiped.
func (s *Session) Initialize(ctx context.Context) {
	token, hasToken, err := s.storage.Get(KeyToken)
	if err != nil {
		s.logger.Error("Failed to read persisted token", slog.Any("error", err))
		return
	}
	rawUser, hasUser, err := s.storage.Get(KeyUser)
	if err != nil {
		s.logger.Error("Failed to read persisted user", slog.Any("error", err))
		return
	}

	if !hasToken && !hasUser {
		return
	}

	var user *User
	if hasToken && hasUser && token != "" {
		user, err = parseUser(rawUser)
	} else {
		err = fmt.Errorf("incomplete persisted session")
	}
	if err != nil {
		s.logger.Warn("Discarding persisted session", slog.Any("error", err))
		if err := clearCredentials(s.storage); err != nil {
			s.logger.Error("Failed to clear credentials", slog.Any("error", err))
		}
		s.reset()
		return
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.token = token
	s.user = user
	s.mu.Unlock()

	s.channel.Connect(token)
}

// refreshed mirrors an interceptor refresh into memory and re-opens the
// realtime connection with the new token
func (s *Session) refreshed(tokens Tokens) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	s.token = tokens.Token
	s.mu.Unlock()

	s.channel.Connect(tokens.Token)
}

// reset drops to anonymous and closes the realtime connection
func (s *Session) reset() {
	s.mu.Lock()
	s.state = StateAnonymous
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	s.channel.Disconnect()
}
