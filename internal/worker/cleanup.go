package worker

import (
	"context"
	"log/slog"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/internal/worker/domain"
)

// cleanupTickets closes tickets idle for longer than staleAfter
func (w *Worker) cleanupTickets(ctx context.Context, _ *queue.Job) (any, error) {
	closed, err := w.storage.CloseStaleTickets(ctx, w.now().Add(-w.staleAfter))
	if err != nil {
		return nil, err
	}

	for _, t := range closed {
		event, err := realtime.NewEvent(realtime.EventTicketUpdated, t.TenantID, realtime.TicketUpdated{
			TicketID: t.ID,
			Status:   domain.TicketStatusClosed,
		})
		if err != nil {
			w.logger.Error("Failed to build ticket event", slog.Any("error", err))
			continue
		}
		w.emit(ctx, event)
	}

	return map[string]int{"closed": len(closed)}, nil
}
