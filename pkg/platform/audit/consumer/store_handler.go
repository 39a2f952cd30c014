package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"ttkn/internal/platform/kafka/consumer"
	audit "ttkn/pkg/platform/audit"
)

// StoreHandler writes consumed audit events into a sink, normally the
// Postgres audit store. Writes are idempotent by event ID, so redelivery is
// harmless.
//
// Compliance and security events are retried until stored. Operations
// events are best-effort: a failed write is logged and the message committed.
type StoreHandler struct {
	sink   audit.Sink
	logger *slog.Logger
}

func NewStoreHandler(sink audit.Sink, logger *slog.Logger) *StoreHandler {
	return &StoreHandler{sink: sink, logger: logger}
}

func (h *StoreHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	event, err := audit.Decode(msg.Value)
	if err != nil {
		h.logger.ErrorContext(ctx, "CRITICAL: dropping malformed audit message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
		// Return nil to commit - malformed messages should not block
		return nil
	}

	if err := h.sink.Write(ctx, event); err != nil {
		if event.Category == audit.CategoryOperations {
			h.logger.WarnContext(ctx, "failed to store operations audit event",
				"event_id", event.ID,
				"action", event.Action,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("store %s audit event %s: %w", event.Category, event.ID, err)
	}

	h.logger.DebugContext(ctx, "stored audit event",
		"event_id", event.ID,
		"action", event.Action,
		"subject", event.Subject,
	)
	return nil
}
