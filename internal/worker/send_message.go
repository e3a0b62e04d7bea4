package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/internal/whatsapp"
	"github.com/zflow/zflow/internal/worker/domain"
)

// sendMessage delivers one stored outbound message
func (w *Worker) sendMessage(ctx context.Context, job *queue.Job) (any, error) {
	var payload queue.SendMessagePayload
	if err := job.Bind(&payload); err != nil {
		return nil, queue.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}

	msg, err := w.storage.GetOutboundMessage(ctx, payload.TenantID, payload.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	if msg.Status == domain.MessageStatusSent {
		w.logger.Info("Message already sent, skipping", slog.String("message_id", msg.ID))
		return nil, nil
	}

	if msg.Phone == "" {
		w.giveUp(ctx, msg, domain.ErrNoRecipientPhone)
		return nil, queue.Permanent(domain.ErrNoRecipientPhone)
	}

	externalID, err := w.sender.Send(ctx, whatsapp.Message{
		To:        msg.Phone,
		Body:      msg.Body,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
	})
	if err != nil {
		sendErr := fmt.Errorf("failed to send message %s: %w", msg.ID, err)
		if !job.CanRetry() || errors.Is(err, whatsapp.ErrNotConfigured) {
			w.giveUp(ctx, msg, err)
			return nil, queue.Permanent(sendErr)
		}
		return nil, sendErr
	}

	if err := w.storage.MarkMessageSent(ctx, msg.ID, externalID); err != nil {
		return nil, err
	}

	return map[string]string{"externalId": externalID}, nil
}

// giveUp marks the message failed and notifies the ticket's assigned user
func (w *Worker) giveUp(ctx context.Context, msg *domain.OutboundMessage, cause error) {
	if err := w.storage.MarkMessageFailed(ctx, msg.ID); err != nil {
		w.logger.Error("Failed to mark message failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}

	if msg.UserID == nil || *msg.UserID == "" {
		return
	}

	n := &domain.Notification{
		TenantID: msg.TenantID,
		UserID:   *msg.UserID,
		Title:    "Message not delivered",
		Body:     fmt.Sprintf("A message on ticket %s could not be sent: %v", msg.TicketID, cause),
	}
	if err := w.storage.CreateNotification(ctx, n); err != nil {
		w.logger.Error("Failed to create notification",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
		return
	}

	event, err := realtime.NewEvent(realtime.EventNotificationCreated, msg.TenantID, n)
	if err != nil {
		w.logger.Error("Failed to build notification event", slog.Any("error", err))
		return
	}
	w.emit(ctx, event.ForUser(n.UserID))
}
