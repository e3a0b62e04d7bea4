package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zflow/zflow/shared/apperror"
)

// Config configures a Client
type Config struct {
	// BaseURL is the API prefix, e.g. http://localhost:8080/api
	BaseURL string
	// SocketURL defaults to BaseURL + /socket with a ws scheme
	SocketURL string

	Storage   Storage // defaults to MemoryStorage
	Navigator Navigator
	Logger    *slog.Logger
	Transport http.RoundTripper
	Timeout   time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Client talks to the ZFlow API on behalf of one user
type Client struct {
	Session *Session
	Channel *Channel
	Stores  *Stores

	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. The session starts anonymous; call
// Session.Initialize to restore persisted credentials.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	socketURL := cfg.SocketURL
	if socketURL == "" {
		ws := *base
		ws.Scheme = "ws"
		if base.Scheme == "https" {
			ws.Scheme = "wss"
		}
		ws.Path += "/socket"
		socketURL = ws.String()
	}

	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := base.String()

	channel := NewChannel(ChannelOptions{
		URL:               socketURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, cfg.Logger)

	plain := &http.Client{Transport: cfg.Transport, Timeout: cfg.Timeout}
	session := newSession(cfg.Storage, plain, baseURL, channel, cfg.Logger)

	interceptor := NewInterceptor(InterceptorConfig{
		Base:       cfg.Transport,
		Storage:    cfg.Storage,
		RefreshURL: baseURL + "/auth/refresh",
		Navigator:  cfg.Navigator,
		Logger:     cfg.Logger,
	})
	interceptor.onRefreshed = session.refreshed
	interceptor.onCleared = session.reset

	return &Client{
		Session: session,
		Channel: channel,
		Stores:  NewStores(),
		baseURL: baseURL,
		http:    &http.Client{Transport: interceptor, Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}, nil
}

// HTTPClient returns the authenticating HTTP client
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Close disconnects the realtime channel
func (c *Client) Close() {
	c.Channel.Disconnect()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperror.Unexpected("request failed", err)
	}
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Unexpected("malformed response", err)
	}
	return nil
}

// TicketQuery filters ListTickets
type TicketQuery struct {
	Status     string
	Search     string
	PageNumber int
	Limit      int
}

func (c *Client) ListTickets(ctx context.Context, q TicketQuery) (*TicketPage, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.PageNumber > 0 {
		v.Set("pageNumber", strconv.Itoa(q.PageNumber))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	path := "/tickets"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page TicketPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	c.Stores.Tickets.Put(page.Tickets...)
	return &page, nil
}

func (c *Client) UpdateTicketStatus(ctx context.Context, ticketID, status string) (*Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodPatch, "/tickets/"+url.PathEscape(ticketID), map[string]string{"status": status}, &t); err != nil {
		return nil, err
	}
	c.Stores.Tickets.Put(t)
	return &t, nil
}

func (c *Client) SendMessage(ctx context.Context, ticketID, body string, media *Upload) (*Message, error) {
	in := map[string]string{"body": body}
	if media != nil {
		in["mediaUrl"] = media.MediaURL
		in["mediaType"] = media.MediaType
	}

	var m Message
	if err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/messages", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) ListNotifications(ctx context.Context) (*NotificationList, error) {
	var list NotificationList
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &list); err != nil {
		return nil, err
	}
	c.Stores.Notifications.Replace(list.Notifications)
	return &list, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

func (c *Client) StartCampaign(ctx context.Context, campaignID string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/start", nil, nil)
}

// Upload sends a file as the multipart field "media"
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Upload
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
