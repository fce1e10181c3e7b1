package persistence

import (
	"context"
	"testing"
	"time"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

func TestMemoryCommitMakesOrderVisible(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	order := domain.Order{
		OrderID:        "ord-1",
		IdempotencyKey: "key-1",
		Broker:         "mockbroker",
		State:          domain.StatePending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := tx.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("upsert order: %v", err)
	}
	if _, ok, _ := m.LoadOrder(ctx, "ord-1"); ok {
		t.Fatalf("order should not be visible before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, ok, err := m.LoadOrder(ctx, "ord-1")
	if err != nil || !ok {
		t.Fatalf("expected order visible after commit, ok=%v err=%v", ok, err)
	}
	if got.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected idempotency key %q", got.IdempotencyKey)
	}
}

func TestMemoryRollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, _ := m.Begin(ctx)
	tx.UpsertOrder(ctx, domain.Order{OrderID: "ord-2", State: domain.StatePending})
	tx.Rollback()

	if _, ok, _ := m.LoadOrder(ctx, "ord-2"); ok {
		t.Fatalf("rolled-back order must not be visible")
	}
}

func TestMemoryPortfolioDeltaRoundTrips(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ref := domain.InstrumentRef{Exchange: "NSE", Symbol: "INFY"}

	tx, _ := m.Begin(ctx)
	pos := domain.Position{
		Broker: "zerodha", Instrument: ref, Product: domain.ProductIntraday,
		BuyQty: 10, AvgBuy: money.New(1500),
	}
	tx.ApplyPortfolioDelta(ctx, pos)
	tx.Commit()

	got, ok, err := m.LoadPosition(ctx, "zerodha", ref, domain.ProductIntraday)
	if err != nil || !ok {
		t.Fatalf("expected position, ok=%v err=%v", ok, err)
	}
	if got.NetQty() != 10 {
		t.Fatalf("expected net qty 10, got %d", got.NetQty())
	}
}
