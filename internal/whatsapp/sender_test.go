package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSender(url string) *CloudSender {
	return NewCloudSender(Config{
		APIURL:        url,
		AccessToken:   "token",
		PhoneNumberID: "12345",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCloudSender_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	id, err := newSender(srv.URL+"/").Send(context.Background(), Message{To: "5511999", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, map[string]any{"body": "hello"}, got["text"])
}

func TestCloudSender_SendErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		errString string
	}{
		{name: "api error", status: 400, body: `{"error":{"message":"Invalid parameter","code":100}}`, errString: "whatsapp API returned 400: Invalid parameter"},
		{name: "error without body", status: 502, body: ``, errString: "whatsapp API returned 502: Bad Gateway"},
		{name: "no id", status: 200, body: `{"messages":[]}`, errString: "no message id"},
		{name: "garbage", status: 200, body: `<html>`, errString: "failed to decode whatsapp response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newSender(srv.URL).Send(context.Background(), Message{To: "1", Body: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestCloudSender_NotConfigured(t *testing.T) {
	s := NewCloudSender(Config{APIURL: "http://localhost"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := s.Send(context.Background(), Message{To: "1", Body: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name      string
		msg       Message
		wantType  string
		errString string
	}{
		{name: "text", msg: Message{Body: "hi"}, wantType: "text"},
		{name: "image with caption", msg: Message{Body: "look", MediaURL: "http://x/a.png", MediaType: "image"}, wantType: "image"},
		{name: "audio", msg: Message{MediaURL: "http://x/a.ogg", MediaType: "audio"}, wantType: "audio"},
		{name: "untyped media is a document", msg: Message{MediaURL: "http://x/a.pdf"}, wantType: "document"},
		{name: "empty", msg: Message{Body: "  "}, errString: "neither body nor media"},
		{name: "unknown media", msg: Message{MediaURL: "http://x/a", MediaType: "sticker"}, errString: `unsupported media type "sticker"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(tt.msg)
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, req.Type)
		})
	}
}
