package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"tradecore/internal/broker"
	"tradecore/internal/broker/mock"
	"tradecore/internal/fees"
	"tradecore/internal/idempotency"
	"tradecore/internal/margin"
	"tradecore/internal/persistence"
	"tradecore/internal/portfolio"
	"tradecore/internal/risk"
	"tradecore/internal/router"
	"tradecore/internal/statemachine"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

const testBroker = "testbroker"

var testInstrument = domain.InstrumentRef{Exchange: "NSE", Symbol: "RELIANCE"}

func seedStore(t *testing.T, store persistence.Port) {
	t.Helper()
	ctx := context.Background()
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.UpsertInstrument(ctx, domain.Instrument{
		Exchange: testInstrument.Exchange,
		Symbol:   testInstrument.Symbol,
		Type:     domain.InstrumentEquity,
		LotSize:  1,
		TickSize: money.New(0.05),
		Tradable: true,
	}); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}

	if err := store.UpsertMarginRequirement(ctx, domain.MarginRequirement{
		Broker:          testBroker,
		Instrument:      testInstrument,
		MarginType:      "span",
		EffectiveFrom:   past,
		SPANPercent:     10,
		ExposurePercent: 5,
	}); err != nil {
		t.Fatalf("seed margin requirement: %v", err)
	}

	if err := store.UpsertFeeConfiguration(ctx, domain.FeeConfiguration{
		Broker:          testBroker,
		AssetClass:      domain.InstrumentEquity,
		Segment:         testInstrument.Exchange,
		EffectiveFrom:   past,
		BrokerageIsFlat: true,
		BrokerageFlat:   money.New(20),
		STTPercent:      0.1,
		ExchangeTxnPct:  0.00345,
		GSTPercent:      18,
		SEBIPercent:     0.0001,
		StampDutyPct:    0.015,
	}); err != nil {
		t.Fatalf("seed fee configuration: %v", err)
	}
}

type testRig struct {
	coord *Coordinator
	store persistence.Port
	mockB *mock.Adapter
}

func newTestRig(t *testing.T, availableMargin money.Amount) *testRig {
	t.Helper()
	store := persistence.NewMemory()
	seedStore(t, store)
	mockAdapter := mock.New()

	deps := Deps{
		Store:           store,
		Idem:            idempotency.New(),
		Fees:            fees.New(store),
		Margin:          margin.New(store),
		Risk:            risk.New(),
		Machine:         statemachine.New(),
		Router:          router.New(map[string]string{string(domain.InstrumentEquity): testBroker}, testBroker),
		Reducer:         portfolio.New(),
		Brokers:         map[string]broker.Adapter{testBroker: mockAdapter},
		AvailableMargin: availableMargin,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := New(deps, logger, 8, 4, 2*time.Second)
	coord.Start(context.Background(), 2)
	t.Cleanup(coord.Stop)

	return &testRig{coord: coord, store: store, mockB: mockAdapter}
}

func baseIntent(idempotencyKey string) domain.Intent {
	return domain.Intent{
		IdempotencyKey: idempotencyKey,
		StrategyID:     "strat-1",
		Instrument:     testInstrument,
		Side:           domain.SideBuy,
		Type:           domain.OrderTypeLimit,
		Validity:       domain.ValidityDay,
		Product:        domain.ProductIntraday,
		Quantity:       10,
		Price:          money.New(100),
	}
}

// waitForState polls the store until orderID reaches one of wantStates
// or the deadline passes.
func waitForState(t *testing.T, store persistence.Port, orderID string, wantStates ...domain.State) domain.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o, found, err := store.LoadOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("load order: %v", err)
		}
		if found {
			for _, want := range wantStates {
				if o.State == want {
					return o
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s did not reach any of %v in time", orderID, wantStates)
	return domain.Order{}
}

func TestSubmitHappyPathReachesSubmitted(t *testing.T) {
	rig := newTestRig(t, money.New(100000))

	order, err := rig.coord.Submit(context.Background(), baseIntent("key-happy"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.State != domain.StateQueued {
		t.Fatalf("expected order to be persisted QUEUED from Submit, got %s", order.State)
	}

	submitted := waitForState(t, rig.store, order.OrderID, domain.StateSubmitted)
	if submitted.BrokerOrderID == "" {
		t.Fatalf("expected broker order id to be set once submitted")
	}
}

func TestSubmitIdempotentReplayReturnsSameOrder(t *testing.T) {
	rig := newTestRig(t, money.New(100000))

	first, err := rig.coord.Submit(context.Background(), baseIntent("key-dup"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitForState(t, rig.store, first.OrderID, domain.StateSubmitted)

	second, err := rig.coord.Submit(context.Background(), baseIntent("key-dup"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.OrderID != first.OrderID {
		t.Fatalf("expected duplicate idempotency key to return the same order, got %s vs %s", second.OrderID, first.OrderID)
	}
}

func TestSubmitRejectsQuantityNotMultipleOfLotSize(t *testing.T) {
	rig := newTestRig(t, money.New(100000))

	intent := baseIntent("key-badqty")
	intent.Instrument = domain.InstrumentRef{Exchange: "NSE", Symbol: "LOTSIZE5"}
	if err := rig.store.UpsertInstrument(context.Background(), domain.Instrument{
		Exchange: "NSE", Symbol: "LOTSIZE5", Type: domain.InstrumentFuture, LotSize: 5, TickSize: money.New(0.05), Tradable: true,
	}); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	intent.Quantity = 7

	order, err := rig.coord.Submit(context.Background(), intent)
	if err == nil {
		t.Fatalf("expected validation error for non-lot-multiple quantity")
	}
	if order.State != domain.StateRejected {
		t.Fatalf("expected order persisted as REJECTED, got %s", order.State)
	}
}

func TestSubmitRejectsNonPositivePrice(t *testing.T) {
	rig := newTestRig(t, money.New(100000))

	intent := baseIntent("key-badprice")
	intent.Price = money.Zero

	_, err := rig.coord.Submit(context.Background(), intent)
	if err == nil {
		t.Fatalf("expected validation error for non-positive price")
	}
}

func TestSubmitRejectsOnMarginShortfall(t *testing.T) {
	rig := newTestRig(t, money.New(1))

	order, err := rig.coord.Submit(context.Background(), baseIntent("key-shortfall"))
	if err == nil {
		t.Fatalf("expected margin shortfall error")
	}
	if order.State != domain.StateRejected {
		t.Fatalf("expected order persisted as REJECTED, got %s", order.State)
	}
}

func TestSubmitRejectsOnRiskViolation(t *testing.T) {
	rig := newTestRig(t, money.New(100000))
	rig.coord.deps.RiskLimitsForScope = func(ctx context.Context, strategyID string, instrument domain.InstrumentRef) ([]domain.RiskLimit, error) {
		return []domain.RiskLimit{{
			Scope:      domain.ScopePortfolio,
			ScopeKey:   "",
			Metric:     domain.MetricNotional,
			LimitValue: money.New(1),
			IsActive:   true,
		}}, nil
	}

	order, err := rig.coord.Submit(context.Background(), baseIntent("key-risk"))
	if err == nil {
		t.Fatalf("expected risk violation error")
	}
	if order.State != domain.StateRejected {
		t.Fatalf("expected order persisted as REJECTED, got %s", order.State)
	}
}

func TestFillSettlesPositionAndComputesFees(t *testing.T) {
	rig := newTestRig(t, money.New(100000))

	order, err := rig.coord.Submit(context.Background(), baseIntent("key-fill"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	submitted := waitForState(t, rig.store, order.OrderID, domain.StateSubmitted)

	rig.mockB.Emit(broker.Event{
		Type:          broker.EventFill,
		BrokerOrderID: submitted.BrokerOrderID,
		FillQty:       10,
		FillPrice:     money.New(100),
		CumulativeQty: 10,
	})

	filled := waitForState(t, rig.store, order.OrderID, domain.StateFilled)
	if filled.FilledQuantity != 10 {
		t.Fatalf("expected filled quantity 10, got %d", filled.FilledQuantity)
	}

	pos, found, err := rig.store.LoadPosition(context.Background(), testBroker, testInstrument, domain.ProductIntraday)
	if err != nil {
		t.Fatalf("load position: %v", err)
	}
	if !found || pos.BuyQty != 10 {
		t.Fatalf("expected position with buy qty 10, got found=%v pos=%+v", found, pos)
	}
}

// TestBracketExpandsAndOCOSiblingCancelledOnFill exercises the whole
// bracket path through the coordinator: submitting an intent with a
// BracketSpec must expand into target/stop legs only once the entry
// fills, and a fill on one leg must cancel the other.
func TestBracketExpandsAndOCOSiblingCancelledOnFill(t *testing.T) {
	rig := newTestRig(t, money.New(100000))
	ctx := context.Background()

	intent := baseIntent("key-oco-entry")
	intent.Bracket = &domain.BracketSpec{
		TargetPrice: money.New(110),
		StopPrice:   money.New(90),
	}

	entry, err := rig.coord.Submit(ctx, intent)
	if err != nil {
		t.Fatalf("submit entry: %v", err)
	}
	submittedEntry := waitForState(t, rig.store, entry.OrderID, domain.StateSubmitted)

	rig.mockB.Emit(broker.Event{
		Type:          broker.EventFill,
		BrokerOrderID: submittedEntry.BrokerOrderID,
		FillQty:       10,
		FillPrice:     money.New(100),
		CumulativeQty: 10,
	})
	waitForState(t, rig.store, entry.OrderID, domain.StateFilled)

	target, stop := waitForBracketLegs(t, rig.store, entry.OrderID)
	if !target.Price.Equal(money.New(110)) {
		t.Fatalf("expected target price 110, got %s", target.Price)
	}
	if !stop.Price.Equal(money.New(90)) {
		t.Fatalf("expected stop price 90, got %s", stop.Price)
	}
	submittedTarget := waitForState(t, rig.store, target.OrderID, domain.StateSubmitted)

	rig.mockB.Emit(broker.Event{
		Type:          broker.EventFill,
		BrokerOrderID: submittedTarget.BrokerOrderID,
		FillQty:       10,
		FillPrice:     money.New(110),
		CumulativeQty: 10,
	})

	waitForState(t, rig.store, target.OrderID, domain.StateFilled)
	waitForState(t, rig.store, stop.OrderID, domain.StateCancelled)
}

// waitForBracketLegs polls until both the target and stop legs sharing
// entryOrderID's bracket group have been persisted.
func waitForBracketLegs(t *testing.T, store persistence.Port, entryOrderID string) (target, stop domain.Order) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		legs, err := store.LoadOrdersByFilter(context.Background(), persistence.OrderFilter{Broker: testBroker})
		if err != nil {
			t.Fatalf("load legs: %v", err)
		}
		var foundTarget, foundStop *domain.Order
		for i := range legs {
			if legs[i].GroupID != entryOrderID {
				continue
			}
			switch legs[i].Type {
			case domain.OrderTypeLimit:
				foundTarget = &legs[i]
			case domain.OrderTypeStopLoss:
				foundStop = &legs[i]
			}
		}
		if foundTarget != nil && foundStop != nil {
			return *foundTarget, *foundStop
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bracket legs for entry %s did not appear in time", entryOrderID)
	return domain.Order{}, domain.Order{}
}

// TestIcebergReleasesSlicesSequentially exercises the iceberg path
// through the coordinator: an intent with IcebergVisible set must split
// into multiple slices, dispatch only the first, and release the next
// slice only once the previous one reports a fill.
func TestIcebergReleasesSlicesSequentially(t *testing.T) {
	rig := newTestRig(t, money.New(100000))
	ctx := context.Background()

	intent := baseIntent("key-iceberg")
	intent.Quantity = 25
	intent.IcebergVisible = 10

	first, err := rig.coord.Submit(ctx, intent)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Quantity != 10 {
		t.Fatalf("expected first slice quantity 10, got %d", first.Quantity)
	}

	submittedFirst := waitForState(t, rig.store, first.OrderID, domain.StateSubmitted)

	// No second slice should exist yet: it's held back until the first
	// reports progress.
	legs, err := rig.store.LoadOrdersByFilter(ctx, persistence.OrderFilter{Broker: testBroker, States: []domain.State{domain.StateQueued, domain.StateSubmitted}})
	if err != nil {
		t.Fatalf("load legs: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("expected only the first slice to be queued/submitted before any fill, got %d", len(legs))
	}

	rig.mockB.Emit(broker.Event{
		Type:          broker.EventPartialFill,
		BrokerOrderID: submittedFirst.BrokerOrderID,
		FillQty:       10,
		FillPrice:     money.New(100),
		CumulativeQty: 10,
	})
	waitForState(t, rig.store, first.OrderID, domain.StatePartiallyFilled)

	second := waitForNextSlice(t, rig.store, first.GroupID, first.OrderID)
	if second.Quantity != 10 {
		t.Fatalf("expected second slice quantity 10, got %d", second.Quantity)
	}
	submittedSecond := waitForState(t, rig.store, second.OrderID, domain.StateSubmitted)

	rig.mockB.Emit(broker.Event{
		Type:          broker.EventFill,
		BrokerOrderID: submittedSecond.BrokerOrderID,
		FillQty:       10,
		FillPrice:     money.New(100),
		CumulativeQty: 10,
	})
	waitForState(t, rig.store, second.OrderID, domain.StateFilled)

	third := waitForNextSlice(t, rig.store, first.GroupID, first.OrderID, second.OrderID)
	if third.Quantity != 5 {
		t.Fatalf("expected third (final) slice quantity 5, got %d", third.Quantity)
	}
}

// waitForNextSlice polls until exactly one order sharing groupID and
// not in exclude appears.
func waitForNextSlice(t *testing.T, store persistence.Port, groupID string, exclude ...string) domain.Order {
	t.Helper()
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		legs, err := store.LoadOrdersByFilter(context.Background(), persistence.OrderFilter{Broker: testBroker})
		if err != nil {
			t.Fatalf("load legs: %v", err)
		}
		for _, leg := range legs {
			if leg.GroupID == groupID && !excluded[leg.OrderID] {
				return leg
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("next slice in group %s did not appear in time", groupID)
	return domain.Order{}
}

func TestSubmitCapacityExceededWhenIntakeIsFull(t *testing.T) {
	store := persistence.NewMemory()
	seedStore(t, store)
	mockAdapter := mock.New()

	deps := Deps{
		Store:           store,
		Idem:            idempotency.New(),
		Fees:            fees.New(store),
		Margin:          margin.New(store),
		Risk:            risk.New(),
		Machine:         statemachine.New(),
		Router:          router.New(map[string]string{string(domain.InstrumentEquity): testBroker}, testBroker),
		Reducer:         portfolio.New(),
		Brokers:         map[string]broker.Adapter{testBroker: mockAdapter},
		AvailableMargin: money.New(100000),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Start is not called, so no dispatch worker runs, and the queue has
	// 1 slot: the first Submit fills the intake queue and is never
	// drained, so the second must see CAPACITY_EXCEEDED.
	coord := New(deps, logger, 1, 1, 2*time.Second)
	t.Cleanup(coord.Stop)

	if _, err := coord.Submit(context.Background(), baseIntent("key-cap-1")); err != nil {
		t.Fatalf("first submit should succeed: %v", err)
	}
	if _, err := coord.Submit(context.Background(), baseIntent("key-cap-2")); err == nil {
		t.Fatalf("expected second submit to fail with capacity exceeded")
	}
}
