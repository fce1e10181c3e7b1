package domain

import "tradecore/pkg/money"

// Position is the intraday (or carried) exposure for one
// (broker, instrument, product) triple. BuyQty/SellQty track cumulative
// volume so average prices stay volume-weighted across the position's
// lifetime.
type Position struct {
	Broker     string
	Instrument InstrumentRef
	Product    ProductType

	BuyQty  int64
	SellQty int64
	AvgBuy  money.Amount
	AvgSell money.Amount

	RealizedPnL   money.Amount
	UnrealizedPnL money.Amount
	LastMark      money.Amount
}

// NetQty is positive for a net long position, negative for net short.
func (p Position) NetQty() int64 {
	return p.BuyQty - p.SellQty
}

// Holding is settled delivery (CNC) exposure, separate from the
// intraday Position it was funded from.
type Holding struct {
	Broker       string
	Instrument   InstrumentRef
	Quantity     int64
	AvgCost      money.Amount
	LastTradedPx money.Amount
}

// CurrentValue returns Quantity priced at LastTradedPx.
func (h Holding) CurrentValue() money.Amount {
	return h.LastTradedPx.Mul(money.NewFromInt(h.Quantity))
}
