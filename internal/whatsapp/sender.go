// Package whatsapp sends outbound messages through the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no access token or phone number id is set
var ErrNotConfigured = errors.New("whatsapp sender is not configured")

// Message is one outbound message
type Message struct {
	To        string
	Body      string
	MediaURL  string
	MediaType string // image, video, audio or document
}

// Sender delivers a message and returns the provider message id
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config holds Cloud API settings
type Config struct {
	APIURL        string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// CloudSender calls the Cloud API messages endpoint
type CloudSender struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewCloudSender creates a sender
func NewCloudSender(config Config, logger *slog.Logger) *CloudSender {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CloudSender{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type mediaObject struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textObject  `json:"text,omitempty"`
	Image            *mediaObject `json:"image,omitempty"`
	Video            *mediaObject `json:"video,omitempty"`
	Audio            *mediaObject `json:"audio,omitempty"`
	Document         *mediaObject `json:"document,omitempty"`
}

type textObject struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func buildRequest(msg Message) (sendRequest, error) {
	req := sendRequest{MessagingProduct: "whatsapp", To: msg.To}

	if msg.MediaURL == "" {
		if strings.TrimSpace(msg.Body) == "" {
			return req, fmt.Errorf("message has neither body nor media")
		}
		req.Type = "text"
		req.Text = &textObject{Body: msg.Body}
		return req, nil
	}

	media := &mediaObject{Link: msg.MediaURL}
	mediaType := msg.MediaType
	if mediaType == "" {
		mediaType = "document"
	}

	switch mediaType {
	case "image":
		media.Caption = msg.Body
		req.Image = media
	case "video":
		media.Caption = msg.Body
		req.Video = media
	case "audio":
		req.Audio = media
	case "document":
		media.Caption = msg.Body
		req.Document = media
	default:
		return req, fmt.Errorf("unsupported media type %q", msg.MediaType)
	}
	req.Type = mediaType
	return req, nil
}

// Send posts msg and returns the provider id
func (s *CloudSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.config.AccessToken == "" || s.config.PhoneNumberID == "" {
		return "", ErrNotConfigured
	}
	if msg.To == "" {
		return "", fmt.Errorf("message has no recipient")
	}

	payload, err := buildRequest(msg)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := strings.TrimRight(s.config.APIURL, "/") + "/" + s.config.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read whatsapp response: %w", err)
	}

	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("failed to decode whatsapp response: %w", err)
	}

	if resp.StatusCode >= 300 {
		reason := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			reason = out.Error.Message
		}
		return "", fmt.Errorf("whatsapp API returned %d: %s", resp.StatusCode, reason)
	}

	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp response carried no message id")
	}

	s.logger.Debug("WhatsApp message sent",
		slog.String("to", msg.To),
		slog.String("external_id", out.Messages[0].ID),
	)

	return out.Messages[0].ID, nil
}
