// Package services holds the ledger's use cases. Each service persists
// first and then publishes a ledger event; a failed publish is logged and
// never fails the request.
package services

import (
	"context"
	"time"

	"kesefly/internal/amqp"
	"kesefly/internal/log"
)

// Invalidator drops cached read models of a user after a write.
type Invalidator interface {
	Invalidate(userID string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(string) {}

// notifier publishes ledger events and invalidates caches on behalf of the
// writing services.
type notifier struct {
	events amqp.Publisher
	cache  Invalidator
	logger *log.Logger
	now    func() time.Time
}

func newNotifier(events amqp.Publisher, cache Invalidator, logger *log.Logger) notifier {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return notifier{events: events, cache: cache, logger: logger, now: time.Now}
}

func (n notifier) written(ctx context.Context, userID string, ev *amqp.LedgerEvent) {
	n.cache.Invalidate(userID)
	if ev == nil {
		return
	}
	if n.events == nil {
		n.logger.DebugContext(ctx, "AMQP publisher not available, skipping ledger event",
			log.FieldKind, ev.Kind, log.FieldItemID, ev.ID)
		return
	}
	if err := n.events.PublishLedgerEvent(ctx, ev); err != nil {
		n.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldKind, ev.Kind,
			log.FieldItemID, ev.ID,
			log.FieldUserID, userID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeUpstream,
			log.FieldOperation, log.OpPublish)
	}
}
