package domain

import "strings"

// Ticket status constants
const (
	TicketStatusOpen    = "open"
	TicketStatusPending = "pending"
	TicketStatusClosed  = "closed"
)

// Message status constants
const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusRunning   = "running"
	CampaignStatusCompleted = "completed"
)

// User roles
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// ValidTicketStatus reports whether s is a known ticket status
func ValidTicketStatus(s string) bool {
	switch s {
	case TicketStatusOpen, TicketStatusPending, TicketStatusClosed:
		return true
	}
	return false
}

// Media types accepted on outbound messages
const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
)

// ValidMediaType reports whether s can be sent; empty means text only
func ValidMediaType(s string) bool {
	switch s {
	case "", MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// MediaTypeOf classifies a MIME type into a media type
func MediaTypeOf(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}
