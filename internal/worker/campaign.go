package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/whatsapp"
	"github.com/zflow/zflow/internal/worker/domain"
)

// executeCampaign splits a campaign's pending recipients into bulk-dispatch batches
func (w *Worker) executeCampaign(ctx context.Context, job *queue.Job) (any, error) {
	var payload queue.CampaignPayload
	if err := job.Bind(&payload); err != nil {
		return nil, queue.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}

	campaign, err := w.storage.GetCampaign(ctx, payload.TenantID, payload.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	if campaign.Status == domain.CampaignStatusCompleted {
		w.logger.Info("Campaign already completed, skipping", slog.String("campaign_id", campaign.ID))
		return nil, nil
	}

	ids, err := w.storage.PendingRecipientIDs(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return map[string]int{"batches": 0}, w.storage.SetCampaignStatus(ctx, campaign.ID, domain.CampaignStatusCompleted)
	}

	if err := w.storage.SetCampaignStatus(ctx, campaign.ID, domain.CampaignStatusRunning); err != nil {
		return nil, err
	}

	batches := 0
	for start := 0; start < len(ids); start += w.batchSize {
		end := min(start+w.batchSize, len(ids))

		_, err := w.enqueuer.Add(ctx, queue.BulkDispatch, queue.JobDispatchBatch, queue.BulkDispatchPayload{
			TenantID:     campaign.TenantID,
			CampaignID:   campaign.ID,
			RecipientIDs: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue batch %d of campaign %s: %w", batches, campaign.ID, err)
		}
		batches++
	}

	w.logger.Info("Campaign expanded",
		slog.String("campaign_id", campaign.ID),
		slog.Int("recipients", len(ids)),
		slog.Int("batches", batches),
	)

	return map[string]int{"batches": batches}, nil
}

// bulkDispatch sends the campaign message to one batch of recipients at the dispatch rate
func (w *Worker) bulkDispatch(ctx context.Context, job *queue.Job) (any, error) {
	var payload queue.BulkDispatchPayload
	if err := job.Bind(&payload); err != nil {
		return nil, queue.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}

	campaign, err := w.storage.GetCampaign(ctx, payload.TenantID, payload.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	// retried batches only see the recipients a previous attempt did not reach
	recipients, err := w.storage.PendingRecipients(ctx, campaign.ID, payload.RecipientIDs)
	if err != nil {
		return nil, err
	}

	sent, failed := 0, 0
	for _, r := range recipients {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dispatch interrupted: %w", err)
		}

		status, errMsg := domain.RecipientStatusSent, ""
		if _, err := w.sender.Send(ctx, whatsapp.Message{
			To:       r.Phone,
			Body:     campaign.Message,
			MediaURL: campaign.MediaURL,
		}); err != nil {
			status, errMsg = domain.RecipientStatusFailed, err.Error()
			failed++
			w.logger.Warn("Campaign message failed",
				slog.String("campaign_id", campaign.ID),
				slog.String("recipient_id", r.ID),
				slog.Any("error", err),
			)
		} else {
			sent++
		}

		if err := w.storage.MarkRecipient(ctx, r.ID, status, errMsg); err != nil {
			return nil, err
		}
	}

	pending, err := w.storage.CountPendingRecipients(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		if err := w.storage.SetCampaignStatus(ctx, campaign.ID, domain.CampaignStatusCompleted); err != nil {
			return nil, err
		}
	}

	return map[string]int{"sent": sent, "failed": failed}, nil
}
