package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zflow/zflow/internal/api/domain"
	"github.com/zflow/zflow/internal/api/dto"
	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/shared/apperror"
)

const (
	defaultTicketLimit  = 20
	maxTicketLimit      = 100
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// TicketHandler handles tickets and their messages
type TicketHandler struct {
	logger  *slog.Logger
	storage *storage.Storage
	queues  Enqueuer
	events  realtime.Publisher
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(deps *Dependencies) *TicketHandler {
	return &TicketHandler{
		logger:  deps.Logger,
		storage: deps.Storage,
		queues:  deps.Queues,
		events:  deps.Events,
	}
}

// ListTickets handles GET /api/tickets
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req dto.ListTicketsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, h.logger, apperror.Validation("query", "invalid query parameters"))
		return
	}

	if req.Status != "" && !domain.ValidTicketStatus(req.Status) {
		writeError(c, h.logger, apperror.Validation("status", "unknown ticket status"))
		return
	}

	if req.PageNumber <= 0 {
		req.PageNumber = 1
	}
	req.Limit = clamp(req.Limit, defaultTicketLimit, maxTicketLimit)

	principal := PrincipalFrom(c)
	tickets, count, err := h.storage.ListTickets(c.Request.Context(), storage.TicketFilter{
		TenantID:   principal.TenantID,
		Status:     req.Status,
		Search:     req.Search,
		PageNumber: req.PageNumber,
		Limit:      req.Limit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.ListTicketsResponse{
		Tickets: make([]dto.TicketDTO, len(tickets)),
		Count:   count,
		HasMore: count > req.PageNumber*req.Limit,
	}
	for i := range tickets {
		resp.Tickets[i] = toTicketDTO(&tickets[i])
	}

	c.JSON(http.StatusOK, resp)
}

// UpdateTicket handles PATCH /api/tickets/:id
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	var req dto.UpdateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, apperror.Validation("body", "invalid request body"))
		return
	}
	if !domain.ValidTicketStatus(req.Status) {
		writeError(c, h.logger, apperror.Validation("status", "unknown ticket status"))
		return
	}

	ctx := c.Request.Context()
	principal := PrincipalFrom(c)
	ticketID := c.Param("id")

	if err := h.storage.UpdateTicketStatus(ctx, principal.TenantID, ticketID, req.Status); err != nil {
		writeError(c, h.logger, err)
		return
	}

	ticket, err := h.storage.GetTicket(ctx, principal.TenantID, ticketID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	payload := realtime.TicketUpdated{TicketID: ticket.ID, Status: ticket.Status}
	if err := realtime.Emit(ctx, h.events, realtime.EventTicketUpdated, principal.TenantID, payload); err != nil {
		h.logger.Warn("Failed to emit ticket update", slog.String("ticket_id", ticket.ID), slog.Any("error", err))
	}

	c.JSON(http.StatusOK, toTicketDTO(ticket))
}

// ListMessages handles GET /api/tickets/:id/messages
func (h *TicketHandler) ListMessages(c *gin.Context) {
	var req dto.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, h.logger, apperror.Validation("query", "invalid query parameters"))
		return
	}
	req.Limit = clamp(req.Limit, defaultMessageLimit, maxMessageLimit)

	cursor, err := DecodeMessageCursor(req.Cursor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	principal := PrincipalFrom(c)
	ticketID := c.Param("id")

	if _, err := h.storage.GetTicket(ctx, principal.TenantID, ticketID); err != nil {
		writeError(c, h.logger, err)
		return
	}

	messages, err := h.storage.ListMessages(ctx, storage.MessageFilter{
		TenantID: principal.TenantID,
		TicketID: ticketID,
		Limit:    req.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	hasMore := len(messages) > req.Limit
	if hasMore {
		messages = messages[:req.Limit]
	}

	resp := dto.ListMessagesResponse{Messages: make([]dto.MessageDTO, len(messages))}
	for i := range messages {
		resp.Messages[i] = toMessageDTO(&messages[i])
	}

	if hasMore {
		last := messages[len(messages)-1]
		resp.NextCursor = EncodeMessageCursor(&storage.MessageCursor{
			CreatedAt: last.CreatedAt,
			MessageID: last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// CreateMessage handles POST /api/tickets/:id/messages
func (h *TicketHandler) CreateMessage(c *gin.Context) {
	var req dto.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, apperror.Validation("body", "invalid request body"))
		return
	}

	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" && req.MediaURL == "" {
		writeError(c, h.logger, apperror.Validation("body", "body or mediaUrl is required"))
		return
	}

	ctx := c.Request.Context()
	principal := PrincipalFrom(c)

	ticket, err := h.storage.GetTicket(ctx, principal.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	msg := &model.Message{
		ID:        uuid.New().String(),
		TenantID:  principal.TenantID,
		TicketID:  ticket.ID,
		Body:      req.Body,
		FromMe:    true,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
		Status:    domain.MessageStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if msg.MediaURL != "" && msg.MediaType == "" {
		msg.MediaType = domain.MediaDocument
	}
	if !domain.ValidMediaType(msg.MediaType) {
		writeError(c, h.logger, apperror.Validation("mediaType", "unsupported media type"))
		return
	}

	if err := h.storage.CreateMessage(ctx, msg); err != nil {
		writeError(c, h.logger, err)
		return
	}

	payload := queue.SendMessagePayload{TenantID: principal.TenantID, MessageID: msg.ID}
	if _, err := h.queues.Add(ctx, queue.MessageSending, queue.JobSendMessage, payload); err != nil {
		if serr := h.storage.SetMessageStatus(ctx, principal.TenantID, msg.ID, domain.MessageStatusFailed); serr != nil {
			h.logger.Error("Failed to mark message failed", slog.String("message_id", msg.ID), slog.Any("error", serr))
		}
		writeError(c, h.logger, apperror.Unexpected("failed to queue message", err))
		return
	}

	out := toMessageDTO(msg)
	event := realtime.MessageCreated{TicketID: ticket.ID, Message: out}
	if err := realtime.Emit(ctx, h.events, realtime.EventMessageCreated, principal.TenantID, event); err != nil {
		h.logger.Warn("Failed to emit message", slog.String("message_id", msg.ID), slog.Any("error", err))
	}

	c.JSON(http.StatusCreated, out)
}

func toTicketDTO(t *model.Ticket) dto.TicketDTO {
	return dto.TicketDTO{
		ID:           t.ID,
		ContactID:    t.ContactID,
		ContactName:  t.ContactName,
		ContactPhone: t.ContactPhone,
		UserID:       t.UserID,
		Status:       t.Status,
		LastMessage:  t.LastMessage,
		UnreadCount:  t.UnreadCount,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

func toMessageDTO(m *model.Message) dto.MessageDTO {
	return dto.MessageDTO{
		ID:         m.ID,
		TicketID:   m.TicketID,
		Body:       m.Body,
		FromMe:     m.FromMe,
		MediaURL:   m.MediaURL,
		MediaType:  m.MediaType,
		Status:     m.Status,
		ExternalID: m.ExternalID,
		CreatedAt:  formatTime(m.CreatedAt),
	}
}
