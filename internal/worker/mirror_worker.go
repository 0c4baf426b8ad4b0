// Package worker runs the ledger mirror: it consumes ledger events and
// appends them to the configured spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kesefly/internal/amqp"
	"kesefly/internal/log"
	"kesefly/internal/sheets"
)

type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler amqp.Handler) error
}

// MirrorWorker copies every ledger event into a LedgerMirror.
type MirrorWorker struct {
	consumer Consumer
	mirror   sheets.LedgerMirror
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewMirrorWorker(consumer Consumer, mirror sheets.LedgerMirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		consumer: consumer,
		mirror:   mirror,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// EntryFromEvent maps an event onto a mirror row. An unparsable date falls
// back to the event timestamp.
func EntryFromEvent(ev *amqp.LedgerEvent) sheets.Entry {
	date, err := time.Parse("2006-01-02", ev.Date)
	if err != nil {
		date = ev.Timestamp.UTC()
	}
	return sheets.Entry{
		EventID:     ev.EventID,
		Type:        string(ev.Type),
		Kind:        ev.Kind,
		ID:          ev.ID,
		UserID:      ev.UserID,
		Scope:       string(ev.Scope),
		Date:        date,
		Description: ev.Description,
		Category:    ev.Category,
		Amount:      ev.Amount,
		Currency:    string(ev.Currency),
	}
}

// Handle mirrors one event. Permanent mirror failures are wrapped in
// amqp.ErrDrop so the delivery is not requeued; anything else is retried.
func (w *MirrorWorker) Handle(ctx context.Context, ev *amqp.LedgerEvent) error {
	entry := EntryFromEvent(ev)
	start := time.Now()
	ref, err := w.mirror.AppendEntry(ctx, entry)
	if err != nil {
		if errors.Is(err, sheets.ErrPermanent) {
			w.logger.ErrorContext(ctx, "Dropping ledger event",
				log.FieldKind, ev.Kind,
				log.FieldItemID, ev.ID,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeValidation,
				log.FieldOperation, log.OpAppend)
			return fmt.Errorf("%w: %v", amqp.ErrDrop, err)
		}
		w.logger.WarnContext(ctx, "Mirror append failed, will retry",
			log.FieldKind, ev.Kind,
			log.FieldItemID, ev.ID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeUpstream)
		return fmt.Errorf("append to mirror: %w", err)
	}

	w.logger.InfoContext(ctx, "Mirrored ledger event",
		log.FieldKind, ev.Kind,
		log.FieldItemID, ev.ID,
		log.FieldUserID, ev.UserID,
		log.FieldSheetsRef, ref,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Start consumes in the background. Returns an error if already running.
func (w *MirrorWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("mirror worker is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running, w.cancel, w.err = true, cancel, nil
	w.doneCh = make(chan struct{})
	done := w.doneCh
	w.mu.Unlock()

	go func() {
		defer close(done)
		err := w.consumer.ConsumeLedgerEvents(ctx, w.Handle)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		w.mu.Lock()
		w.running, w.err = false, err
		w.mu.Unlock()
		if err != nil {
			w.logger.ErrorContext(ctx, "Mirror worker stopped", log.FieldError, err, log.FieldErrorType, log.ErrorTypeNetwork)
		}
	}()

	w.logger.InfoContext(ctx, "Mirror worker started")
	return nil
}

// Stop cancels consumption and waits for it to finish or for ctx.
func (w *MirrorWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.doneCh
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.InfoContext(ctx, "Mirror worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Mirror worker stop timed out")
		return ctx.Err()
	}
	return w.Err()
}

func (w *MirrorWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Err is the error consumption ended with, if any.
func (w *MirrorWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
