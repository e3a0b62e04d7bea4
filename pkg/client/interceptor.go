package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/zflow/zflow/shared/apperror"
)

// LoginPath is where the client is sent when its credentials are gone
const LoginPath = "/login"

// Navigator moves the client to another entry point
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Tokens is a fresh access/refresh pair
type Tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// attempt is one issue of an original request. A retried attempt never
// triggers another refresh.
type attempt struct {
	req     *http.Request
	body    func() (io.ReadCloser, error)
	retried bool
}

func (a attempt) retry() attempt {
	return attempt{req: a.req, body: a.body, retried: true}
}

// result is the outcome of sending an attempt. token is the access token
// the attempt carried.
type result struct {
	resp         *http.Response
	token        string
	needsRefresh bool
}

// Interceptor is an http.RoundTripper that authenticates requests from
// durable storage and runs the refresh-and-retry protocol on a 401.
//
// Concurrent 401s for the same access token share one refresh. A 401 that
// arrives after another request already rotated the pair retries with the
// stored token instead of presenting a refresh token the server has retired.
type Interceptor struct {
	base       http.RoundTripper
	storage    Storage
	refreshURL string
	navigator  Navigator
	logger     *slog.Logger
	group      singleflight.Group

	onRefreshed func(Tokens)
	onCleared   func()
}

// InterceptorConfig configures an Interceptor
type InterceptorConfig struct {
	Base       http.RoundTripper // defaults to http.DefaultTransport
	Storage    Storage
	RefreshURL string
	Navigator  Navigator
	Logger     *slog.Logger
}

// NewInterceptor creates an interceptor over cfg.Base
func NewInterceptor(cfg InterceptorConfig) *Interceptor {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	return &Interceptor{
		base:       base,
		storage:    cfg.Storage,
		refreshURL: cfg.RefreshURL,
		navigator:  nav,
		logger:     cfg.Logger,
	}
}

// RoundTrip implements http.RoundTripper
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bodySource(req)
	if err != nil {
		return nil, err
	}

	first := attempt{req: req, body: body}
	res, err := i.send(first)
	if err != nil {
		return nil, err
	}
	if !res.needsRefresh {
		return res.resp, nil
	}

	authErr := responseError(res.resp)

	if err := i.refresh(req.Context(), res.token); err != nil {
		i.logger.Warn("Session refresh failed, signing out", slog.Any("error", err))
		i.clear()
		return nil, authErr
	}

	res, err = i.send(first.retry())
	if err != nil {
		return nil, err
	}
	return res.resp, nil
}

func (i *Interceptor) send(a attempt) (result, error) {
	req := a.req.Clone(a.req.Context())
	if a.body != nil {
		body, err := a.body()
		if err != nil {
			return result{}, fmt.Errorf("failed to rewind request body: %w", err)
		}
		req.Body = body
	}

	token, ok, err := i.storage.Get(KeyToken)
	if err != nil {
		return result{}, err
	}
	if ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}

	resp, err := i.base.RoundTrip(req)
	if err != nil {
		return result{}, err
	}

	return result{
		resp:         resp,
		token:        token,
		needsRefresh: resp.StatusCode == http.StatusUnauthorized && !a.retried,
	}, nil
}

// refresh makes sure storage holds a pair newer than stale, the access
// token that was rejected. Callers rejected with the same token share one
// exchange.
func (i *Interceptor) refresh(ctx context.Context, stale string) error {
	_, err, _ := i.group.Do(stale, func() (any, error) {
		current, ok, err := i.storage.Get(KeyToken)
		if err != nil {
			return nil, err
		}
		if ok && current != "" && current != stale {
			// already rotated by another request
			return nil, nil
		}

		refreshToken, ok, err := i.storage.Get(KeyRefreshToken)
		if err != nil {
			return nil, err
		}
		if !ok || refreshToken == "" {
			return nil, apperror.Authentication("no refresh token")
		}
		return i.exchange(context.WithoutCancel(ctx), refreshToken)
	})
	return err
}

func (i *Interceptor) exchange(ctx context.Context, refreshToken string) (Tokens, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return Tokens{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.refreshURL, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.base.RoundTrip(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Tokens{}, responseError(resp)
	}
	defer resp.Body.Close()

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.Token == "" || tokens.RefreshToken == "" {
		return Tokens{}, fmt.Errorf("refresh response without tokens")
	}

	if err := i.storage.Set(KeyToken, tokens.Token); err != nil {
		return Tokens{}, err
	}
	if err := i.storage.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
		return Tokens{}, err
	}

	if i.onRefreshed != nil {
		i.onRefreshed(tokens)
	}
	return tokens, nil
}

func (i *Interceptor) clear() {
	if err := clearCredentials(i.storage); err != nil {
		i.logger.Error("Failed to clear credentials", slog.Any("error", err))
	}
	if i.onCleared != nil {
		i.onCleared()
	}
	i.navigator.Navigate(LoginPath)
}

// bodySource returns a replayable source for the request body, buffering
// it when the request cannot rewind itself
func bodySource(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, nil
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}, nil
}
