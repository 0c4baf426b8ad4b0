package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
	"kesefly/internal/log"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := exponentialBackoff(tt.attempt); got != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("broken pipe"), true},
		{"closed network connection", errors.New("use of closed network connection"), true},
		{"other", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "ledger", queueName: "ledger_events", logger: log.Discard()}

	if client.isCircuitOpen() {
		t.Fatal("circuit should start closed")
	}

	for i := 0; i < maxFailures; i++ {
		client.recordFailure()
	}
	if !client.isCircuitOpen() {
		t.Fatal("circuit should open after max failures")
	}

	client.lastFailure = time.Now().Add(-openTimeout - time.Second)
	if client.isCircuitOpen() {
		t.Fatal("circuit should half-open after the timeout")
	}
	if atomic.LoadInt32(&client.state) != StateHalfOpen {
		t.Fatalf("state = %d, want half-open", client.state)
	}

	client.recordFailure()
	if !client.isCircuitOpen() {
		t.Fatal("a failure while half-open should reopen the circuit")
	}

	client.recordSuccess()
	if client.isCircuitOpen() || atomic.LoadInt64(&client.failureCount) != 0 {
		t.Fatal("success should close the circuit and reset failures")
	}
}

func TestClient_PublishGuards(t *testing.T) {
	client := &Client{exchangeName: "ledger", queueName: "ledger_events", logger: log.Discard()}
	ev := NewLedgerEvent(EventCreated, string(core.KindExpense), "e1", "u1", core.ScopePersonal)

	t.Run("open circuit", func(t *testing.T) {
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now()
		if err := client.PublishLedgerEvent(context.Background(), ev); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("err = %v, want ErrCircuitOpen", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		client.recordSuccess()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := client.PublishLedgerEvent(ctx, ev); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("no channel", func(t *testing.T) {
		client.recordSuccess()
		if err := client.PublishLedgerEvent(context.Background(), ev); err == nil {
			t.Error("publish without a channel should fail")
		}
		if atomic.LoadInt64(&client.failureCount) != 1 {
			t.Errorf("failureCount = %d, want 1", client.failureCount)
		}
	})
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestDispatch(t *testing.T) {
	ev := NewLedgerEvent(EventCreated, string(core.KindExpense), "e1", "u1", core.ScopePersonal)
	body, err := ev.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		wantAck     bool
		wantRequeue bool
		wantHandled bool
	}{
		{"success", body, nil, true, false, true},
		{"transient failure", body, errors.New("sheets unavailable"), false, true, true},
		{"permanent failure", body, fmt.Errorf("bad row: %w", ErrDrop), false, false, true},
		{"malformed json", []byte(`{"id": 12`), nil, false, false, false},
		{"missing user", []byte(`{"id":"x","kind":"EXPENSE"}`), nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			handled := false
			dispatch(context.Background(), log.Discard(), tt.body, ack, func(_ context.Context, got *LedgerEvent) error {
				handled = true
				if got.ID != "e1" {
					t.Errorf("ID = %q, want e1", got.ID)
				}
				return tt.handlerErr
			})
			if handled != tt.wantHandled {
				t.Errorf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if !tt.wantAck && !ack.nacked {
				t.Error("delivery should be nacked")
			}
			if ack.requeued != tt.wantRequeue {
				t.Errorf("requeued = %v, want %v", ack.requeued, tt.wantRequeue)
			}
		})
	}
}

func TestLedgerEvent_JSON(t *testing.T) {
	e := core.Expense{
		ID:          "e1",
		Description: "דלק",
		Category:    "רכב",
		Amount:      decimal.RequireFromString("250.40"),
		Currency:    core.ILS,
		Date:        time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
	}
	ev := ExpenseEvent("u1", core.ScopeBusiness, e)

	b, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	if !strings.Contains(string(b), `"date":"2025-03-09"`) {
		t.Errorf("json = %s, want ISO date", b)
	}

	got, err := LedgerEventFromJSON(b)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}
	if got.EventID != ev.EventID || got.Scope != core.ScopeBusiness || got.Kind != "EXPENSE" {
		t.Errorf("round trip = %+v", got)
	}
	if !got.Amount.Equal(e.Amount) || got.Description != "דלק" {
		t.Errorf("amount/description = %s/%s", got.Amount, got.Description)
	}
}
