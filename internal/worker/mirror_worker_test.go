package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/amqp"
	"kesefly/internal/core"
	"kesefly/internal/sheets"
	"kesefly/internal/sheets/memory"
)

func event() *amqp.LedgerEvent {
	ev := amqp.NewLedgerEvent(amqp.EventCreated, string(core.KindExpense), "exp-1", "u1", core.ScopePersonal)
	ev.Date = "2025-06-02"
	ev.Description = "סופר"
	ev.Amount = decimal.RequireFromString("87.3")
	ev.Currency = core.ILS
	return ev
}

type failingMirror struct{ err error }

func (f failingMirror) AppendEntry(context.Context, sheets.Entry) (string, error) { return "", f.err }

func TestHandle(t *testing.T) {
	mem := memory.New()
	w := NewMirrorWorker(nil, mem, nil)

	ev := event()
	if err := w.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := w.Handle(context.Background(), ev); err != nil {
		t.Fatalf("redelivered Handle() error = %v", err)
	}
	entries := mem.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != "exp-1" || !e.Date.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) || e.Scope != "PERSONAL" || !e.Amount.Equal(ev.Amount) {
		t.Errorf("entry = %+v", e)
	}
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantDrop bool
	}{
		{"permanent", sheets.ErrPermanent, true},
		{"transient", errors.New("quota exceeded"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMirrorWorker(nil, failingMirror{err: tt.err}, nil)
			err := w.Handle(context.Background(), event())
			if err == nil {
				t.Fatal("Handle() succeeded")
			}
			if got := errors.Is(err, amqp.ErrDrop); got != tt.wantDrop {
				t.Errorf("dropped = %v, want %v (%v)", got, tt.wantDrop, err)
			}
		})
	}
}

func TestEntryFromEvent_DateFallback(t *testing.T) {
	ev := event()
	ev.Date = ""
	ev.Timestamp = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if e := EntryFromEvent(ev); !e.Date.Equal(ev.Timestamp) {
		t.Errorf("date = %v, want the timestamp", e.Date)
	}
}

// chanConsumer delivers queued events and then blocks until cancelled.
type chanConsumer struct {
	events  chan *amqp.LedgerEvent
	results chan error
}

func (c *chanConsumer) ConsumeLedgerEvents(ctx context.Context, h amqp.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.results <- h(ctx, ev)
		}
	}
}

func TestStartStop(t *testing.T) {
	c := &chanConsumer{events: make(chan *amqp.LedgerEvent), results: make(chan error, 1)}
	mem := memory.New()
	w := NewMirrorWorker(c, mem, nil)
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	c.events <- event()
	if err := <-c.results; err != nil {
		t.Fatalf("handler error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if len(mem.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(mem.Entries()))
	}
}
