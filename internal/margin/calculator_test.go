package margin

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

func seedStore(t *testing.T) persistence.Port {
	t.Helper()
	store := persistence.NewMemory()
	ctx := context.Background()
	ref := domain.InstrumentRef{Exchange: "NFO", Symbol: "NIFTY25JANFUT"}

	if err := store.UpsertInstrument(ctx, domain.Instrument{
		Exchange: ref.Exchange,
		Symbol:   ref.Symbol,
		Type:     domain.InstrumentFuture,
		LotSize:  50,
	}); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	if err := store.UpsertMarginRequirement(ctx, domain.MarginRequirement{
		Broker:          "zerodha",
		Instrument:      ref,
		MarginType:      "span",
		EffectiveFrom:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		SPANPercent:     10,
		ExposurePercent: 3,
		DeliveryPercent: 20,
	}); err != nil {
		t.Fatalf("seed margin requirement: %v", err)
	}
	return store
}

func TestRequiredFutureChargesSpanAndExposure(t *testing.T) {
	store := seedStore(t)
	c := New(store)

	order := domain.Order{
		Broker:     "zerodha",
		Instrument: domain.InstrumentRef{Exchange: "NFO", Symbol: "NIFTY25JANFUT"},
		Product:    domain.ProductIntraday,
		Side:       domain.SideBuy,
		Quantity:   2,
		Price:      money.New(100),
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	breakdown, err := c.Required(context.Background(), order)
	if err != nil {
		t.Fatalf("required: %v", err)
	}
	// notional = 100 * 2 * 50 = 10000; span = 1000; exposure = 300
	if !breakdown.SPAN.Equal(money.New(1000)) {
		t.Fatalf("expected span 1000, got %s", breakdown.SPAN)
	}
	if !breakdown.Exposure.Equal(money.New(300)) {
		t.Fatalf("expected exposure 300, got %s", breakdown.Exposure)
	}
	if !breakdown.Total.Equal(money.New(1300)) {
		t.Fatalf("expected total 1300, got %s", breakdown.Total)
	}
}

func TestRequiredDeliveryUsesDeliveryPercent(t *testing.T) {
	store := seedStore(t)
	c := New(store)

	order := domain.Order{
		Broker:     "zerodha",
		Instrument: domain.InstrumentRef{Exchange: "NFO", Symbol: "NIFTY25JANFUT"},
		Product:    domain.ProductDelivery,
		Side:       domain.SideBuy,
		Quantity:   2,
		Price:      money.New(100),
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	breakdown, err := c.Required(context.Background(), order)
	if err != nil {
		t.Fatalf("required: %v", err)
	}
	if !breakdown.Total.Equal(money.New(2000)) {
		t.Fatalf("expected delivery total 2000, got %s", breakdown.Total)
	}
}

func TestValidateReportsShortfall(t *testing.T) {
	c := New(persistence.NewMemory())
	ok, shortfall := c.Validate(money.New(500), money.New(1000))
	if ok || shortfall == nil {
		t.Fatalf("expected shortfall when available < required")
	}
	if !shortfall.Deficit.Equal(money.New(500)) {
		t.Fatalf("expected deficit of 500, got %s", shortfall.Deficit)
	}
}

func TestValidatePassesWhenAvailableCoversRequired(t *testing.T) {
	c := New(persistence.NewMemory())
	ok, shortfall := c.Validate(money.New(1000), money.New(1000))
	if !ok || shortfall != nil {
		t.Fatalf("expected no shortfall when available equals required")
	}
}

func TestStressTestZeroBaseReportsZeroIncrease(t *testing.T) {
	c := New(persistence.NewMemory())
	results := c.StressTest(domain.MarginBreakdown{}, []domain.StressScenario{
		{Name: "crash", PriceChangePct: -20, VolatilityChangePct: 10},
	})
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if results[0].IncreasePct != 0 {
		t.Fatalf("expected 0%% increase against a zero base, got %f", results[0].IncreasePct)
	}
}

func TestStressTestAppliesShockToNonZeroBase(t *testing.T) {
	c := New(persistence.NewMemory())
	breakdown := domain.MarginBreakdown{
		SPAN:     money.New(1000),
		Exposure: money.New(300),
		Total:    money.New(1300),
	}
	results := c.StressTest(breakdown, []domain.StressScenario{
		{Name: "shock", PriceChangePct: 10, VolatilityChangePct: 0},
	})
	if results[0].StressedTotal.LessThan(breakdown.Total) {
		t.Fatalf("expected stressed total %s to exceed base %s", results[0].StressedTotal, breakdown.Total)
	}
	if results[0].IncreasePct <= 0 {
		t.Fatalf("expected positive increase percentage, got %f", results[0].IncreasePct)
	}
}
