// Package portfolio folds fills into Position and Holding records:
// volume-weighted average entry price, realized PnL recognition on
// position-reducing fills across an arbitrary instrument/side, and
// settlement into Holdings for delivery trades.
package portfolio

import (
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// Reducer is a pure fold; it holds no state of its own.
type Reducer struct{}

// New returns a ready-to-use Reducer.
func New() *Reducer { return &Reducer{} }

// ApplyFill updates a Position with one fill under the standard
// volume-weighted-average rules: a fill on the same side as the
// existing net exposure extends the average entry price; a fill on the
// opposite side reduces it and realizes PnL on the quantity closed.
func (r *Reducer) ApplyFill(pos domain.Position, fill domain.Fill) domain.Position {
	switch fill.Side {
	case domain.SideBuy:
		pos = applyBuy(pos, fill)
	case domain.SideSell:
		pos = applySell(pos, fill)
	}
	return pos
}

func applyBuy(pos domain.Position, fill domain.Fill) domain.Position {
	netBefore := pos.NetQty()
	if netBefore < 0 {
		// Buying into a short position closes it first; realize PnL on
		// the portion that offsets the existing short.
		closingQty := fill.Quantity
		if short := -netBefore; closingQty > short {
			closingQty = short
		}
		pnl := pos.AvgSell.Sub(fill.Price).MulFloat(float64(closingQty))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	}

	totalCost := pos.AvgBuy.MulFloat(float64(pos.BuyQty)).Add(fill.Price.MulFloat(float64(fill.Quantity)))
	pos.BuyQty += fill.Quantity
	if pos.BuyQty > 0 {
		pos.AvgBuy = totalCost.MulFloat(1 / float64(pos.BuyQty))
	}
	return pos
}

func applySell(pos domain.Position, fill domain.Fill) domain.Position {
	netBefore := pos.NetQty()
	if netBefore > 0 {
		closingQty := fill.Quantity
		if netBefore < closingQty {
			closingQty = netBefore
		}
		pnl := fill.Price.Sub(pos.AvgBuy).MulFloat(float64(closingQty))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	}

	totalCost := pos.AvgSell.MulFloat(float64(pos.SellQty)).Add(fill.Price.MulFloat(float64(fill.Quantity)))
	pos.SellQty += fill.Quantity
	if pos.SellQty > 0 {
		pos.AvgSell = totalCost.MulFloat(1 / float64(pos.SellQty))
	}
	return pos
}

// Mark recomputes UnrealizedPnL from a fresh mark price.
func (r *Reducer) Mark(pos domain.Position, markPrice money.Amount) domain.Position {
	pos.LastMark = markPrice
	net := pos.NetQty()
	if net == 0 {
		pos.UnrealizedPnL = money.Zero
		return pos
	}
	if net > 0 {
		pos.UnrealizedPnL = markPrice.Sub(pos.AvgBuy).MulFloat(float64(net))
	} else {
		pos.UnrealizedPnL = pos.AvgSell.Sub(markPrice).MulFloat(float64(-net))
	}
	return pos
}

// Settle applies a delivery (CNC) fill to the Holding for the same
// instrument: a buy adds its quantity and volume-weights the holding's
// average cost across settlements; a sell reduces the quantity, not
// below zero. It does not change the intraday Position, which keeps
// the fill as applied by ApplyFill.
func (r *Reducer) Settle(holding domain.Holding, fill domain.Fill) domain.Holding {
	if fill.Side == domain.SideSell {
		qty := fill.Quantity
		if qty > holding.Quantity {
			qty = holding.Quantity
		}
		holding.Quantity -= qty
		if holding.Quantity <= 0 {
			holding.Quantity = 0
			holding.AvgCost = money.Zero
		}
		return holding
	}

	totalCost := holding.AvgCost.MulFloat(float64(holding.Quantity)).Add(fill.Price.MulFloat(float64(fill.Quantity)))
	holding.Quantity += fill.Quantity
	if holding.Quantity > 0 {
		holding.AvgCost = totalCost.MulFloat(1 / float64(holding.Quantity))
	}
	return holding
}
