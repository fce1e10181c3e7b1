package portfolio

import (
	"testing"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

func TestApplyFillBuildsVolumeWeightedAverage(t *testing.T) {
	r := New()
	pos := domain.Position{Broker: "zerodha"}

	pos = r.ApplyFill(pos, domain.Fill{Side: domain.SideBuy, Quantity: 10, Price: money.New(100)})
	pos = r.ApplyFill(pos, domain.Fill{Side: domain.SideBuy, Quantity: 10, Price: money.New(120)})

	if pos.BuyQty != 20 {
		t.Fatalf("expected buy qty 20, got %d", pos.BuyQty)
	}
	if !pos.AvgBuy.Equal(money.New(110)) {
		t.Fatalf("expected average buy price 110, got %s", pos.AvgBuy)
	}
}

func TestApplyFillRealizesPnLOnClose(t *testing.T) {
	r := New()
	pos := domain.Position{Broker: "zerodha"}
	pos = r.ApplyFill(pos, domain.Fill{Side: domain.SideBuy, Quantity: 10, Price: money.New(100)})
	pos = r.ApplyFill(pos, domain.Fill{Side: domain.SideSell, Quantity: 4, Price: money.New(110)})

	if pos.NetQty() != 6 {
		t.Fatalf("expected net qty 6, got %d", pos.NetQty())
	}
	if !pos.RealizedPnL.Equal(money.New(40)) {
		t.Fatalf("expected realized pnl 40 (4 * (110-100)), got %s", pos.RealizedPnL)
	}
}

func TestMarkComputesUnrealizedPnLForLongPosition(t *testing.T) {
	r := New()
	pos := domain.Position{BuyQty: 10, AvgBuy: money.New(100)}
	pos = r.Mark(pos, money.New(115))
	if !pos.UnrealizedPnL.Equal(money.New(150)) {
		t.Fatalf("expected unrealized pnl 150 (10 * 15), got %s", pos.UnrealizedPnL)
	}
}

func TestSettleMovesBuyIntoHolding(t *testing.T) {
	r := New()
	holding := domain.Holding{}
	holding = r.Settle(holding, domain.Fill{Side: domain.SideBuy, Quantity: 5, Price: money.New(200)})
	if holding.Quantity != 5 {
		t.Fatalf("expected holding quantity 5, got %d", holding.Quantity)
	}
	if !holding.AvgCost.Equal(money.New(200)) {
		t.Fatalf("expected avg cost 200, got %s", holding.AvgCost)
	}
}

func TestSettleSellReducesHolding(t *testing.T) {
	r := New()
	holding := domain.Holding{Quantity: 10, AvgCost: money.New(200)}
	holding = r.Settle(holding, domain.Fill{Side: domain.SideSell, Quantity: 4, Price: money.New(250)})
	if holding.Quantity != 6 {
		t.Fatalf("expected holding quantity 6, got %d", holding.Quantity)
	}
	if !holding.AvgCost.Equal(money.New(200)) {
		t.Fatalf("expected avg cost to remain 200 after a partial sell, got %s", holding.AvgCost)
	}
}

func TestSettleSellBelowZeroClampsToZero(t *testing.T) {
	r := New()
	holding := domain.Holding{Quantity: 2, AvgCost: money.New(200)}
	holding = r.Settle(holding, domain.Fill{Side: domain.SideSell, Quantity: 5, Price: money.New(250)})
	if holding.Quantity != 0 {
		t.Fatalf("expected holding quantity clamped to 0, got %d", holding.Quantity)
	}
	if !holding.AvgCost.IsZero() {
		t.Fatalf("expected avg cost reset to 0, got %s", holding.AvgCost)
	}
}
