// Package router implements the Smart Order Router: broker selection,
// iceberg splitting, and bracket expansion. None of it talks to a
// broker or to persistence directly; it only shapes domain.Order
// values for the coordinator to submit.
package router

import (
	"fmt"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// Router resolves broker routing and expands one order intent into the
// concrete sequence of orders it implies.
type Router struct {
	routingRules  map[string]string // instrument type -> broker id
	defaultBroker string
}

// New builds a Router from the configured routing table and fallback
// broker.
func New(routingRules map[string]string, defaultBroker string) *Router {
	return &Router{routingRules: routingRules, defaultBroker: defaultBroker}
}

// Route resolves the broker for an intent by precedence: an explicit
// broker on the intent, then a routing rule keyed by instrument type,
// then the configured default broker.
func (r *Router) Route(intent domain.Intent, instrumentType domain.InstrumentType) (string, error) {
	if intent.Broker != "" {
		return intent.Broker, nil
	}
	if b, ok := r.routingRules[string(instrumentType)]; ok && b != "" {
		return b, nil
	}
	if r.defaultBroker != "" {
		return r.defaultBroker, nil
	}
	return "", fmt.Errorf("no broker resolved for instrument type %s: no explicit broker, routing rule, or default", instrumentType)
}

// SplitIceberg splits a parent order's full quantity into a sequence of
// LIMIT children, each between 1 and visibleQty, summing exactly to the
// parent quantity. Children share the parent's group id, price and
// side; the coordinator is responsible for releasing child N+1 only
// once child N reaches PARTIALLY_FILLED or FILLED.
func SplitIceberg(parent domain.Order, visibleQty int64) ([]domain.Order, error) {
	if visibleQty <= 0 {
		return nil, fmt.Errorf("iceberg visible quantity must be positive, got %d", visibleQty)
	}
	if parent.Quantity <= 0 {
		return nil, fmt.Errorf("parent quantity must be positive, got %d", parent.Quantity)
	}

	groupID := parent.GroupID
	if groupID == "" {
		groupID = parent.OrderID
	}

	remaining := parent.Quantity
	children := make([]domain.Order, 0, (parent.Quantity+visibleQty-1)/visibleQty)
	for remaining > 0 {
		qty := visibleQty
		if qty > remaining {
			qty = remaining
		}
		child := parent
		child.OrderID = ""
		child.BrokerOrderID = ""
		child.IdempotencyKey = ""
		child.Type = domain.OrderTypeLimit
		child.Quantity = qty
		child.FilledQuantity = 0
		child.AvgFillPrice = money.Zero
		child.State = domain.StatePending
		child.GroupID = groupID
		child.ParentID = parent.OrderID
		children = append(children, child)
		remaining -= qty
	}
	return children, nil
}

// BracketOrders is the {entry, target, stop} triple produced by
// ExpandBracket. Target and stop share a group id so a fill on either
// triggers the coordinator to cancel the other (OCO semantics).
type BracketOrders struct {
	Entry  domain.Order
	Target domain.Order
	Stop   domain.Order
}

// ExpandBracket builds the exit pair for a filled entry order.
func ExpandBracket(entry domain.Order, target, stop money.Amount) BracketOrders {
	groupID := entry.GroupID
	if groupID == "" {
		groupID = entry.OrderID
	}

	exitSide := domain.SideSell
	if entry.Side == domain.SideSell {
		exitSide = domain.SideBuy
	}

	targetOrder := entry
	targetOrder.OrderID = ""
	targetOrder.BrokerOrderID = ""
	targetOrder.IdempotencyKey = ""
	targetOrder.Type = domain.OrderTypeLimit
	targetOrder.Side = exitSide
	targetOrder.Price = target
	targetOrder.FilledQuantity = 0
	targetOrder.AvgFillPrice = money.Zero
	targetOrder.State = domain.StatePending
	targetOrder.GroupID = groupID
	targetOrder.ParentID = entry.OrderID

	stopOrder := entry
	stopOrder.OrderID = ""
	stopOrder.BrokerOrderID = ""
	stopOrder.IdempotencyKey = ""
	stopOrder.Type = domain.OrderTypeStopLoss
	stopOrder.Side = exitSide
	stopOrder.Price = stop
	stopOrder.TriggerPrice = &stop
	stopOrder.FilledQuantity = 0
	stopOrder.AvgFillPrice = money.Zero
	stopOrder.State = domain.StatePending
	stopOrder.GroupID = groupID
	stopOrder.ParentID = entry.OrderID

	return BracketOrders{Entry: entry, Target: targetOrder, Stop: stopOrder}
}
