// Package domain holds the core trading vocabulary shared by every
// component of the execution engine: orders, instruments, positions,
// holdings, fees, margin, risk limits, and reconciliation records.
package domain

import (
	"time"

	"tradecore/pkg/money"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the pricing behavior of an order.
type OrderType string

const (
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeStopLoss       OrderType = "STOP_LOSS"
	OrderTypeStopLossMarket OrderType = "STOP_LOSS_MARKET"
)

// Validity controls how long an order remains live.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// ProductType distinguishes intraday margin trading from delivery.
type ProductType string

const (
	ProductIntraday ProductType = "MIS"
	ProductDelivery ProductType = "CNC"
)

// State is a node in the order lifecycle graph. See
// internal/statemachine for the transition table.
type State string

const (
	StatePending          State = "PENDING"
	StateQueued           State = "QUEUED"
	StateSubmitted        State = "SUBMITTED"
	StatePartiallyFilled  State = "PARTIALLY_FILLED"
	StateFilled           State = "FILLED"
	StateCancelled        State = "CANCELLED"
	StateRejected         State = "REJECTED"
	StateExpired          State = "EXPIRED"
	StateModifyRequested  State = "MODIFY_REQUESTED"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Order is the unit of work flowing through the coordinator. Identity is
// the pair (OrderID, IdempotencyKey); IdempotencyKey may be empty for
// orders created internally (bracket exits, iceberg children).
type Order struct {
	OrderID         string
	IdempotencyKey  string
	StrategyID      string
	Broker          string
	Instrument      InstrumentRef
	Side            Side
	Type            OrderType
	Validity        Validity
	Product         ProductType
	Quantity        int64
	Price           money.Amount
	TriggerPrice    *money.Amount
	GroupID         string // shared by bracket/OCO siblings and iceberg children
	ParentID        string
	BrokerOrderID   string
	State           State
	FilledQuantity  int64
	AvgFillPrice    money.Amount
	RejectReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InstrumentRef is the minimal key needed to address an instrument
// without pulling in the full master-data record.
type InstrumentRef struct {
	Exchange string
	Symbol   string
}

// Remaining returns the quantity not yet filled.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Fill is one execution against an order.
type Fill struct {
	FillID    string
	OrderID   string
	Broker    string
	Side      Side
	Quantity  int64
	Price     money.Amount
	Product   ProductType
	Instrument InstrumentRef
	TradedAt  time.Time
}

// TransitionLogRow is the audit record written alongside every order
// state mutation.
type TransitionLogRow struct {
	ID        string
	OrderID   string
	FromState State
	ToState   State
	At        time.Time
	Reason    string
}

// Intent is the caller-supplied request that the coordinator turns into
// one or more Orders.
type Intent struct {
	IdempotencyKey string
	StrategyID     string
	Broker         string // optional; empty lets the router decide
	Instrument     InstrumentRef
	Side           Side
	Type           OrderType
	Validity       Validity
	Product        ProductType
	Quantity       int64
	Price          money.Amount
	TriggerPrice   *money.Amount
	IcebergVisible int64        // 0 disables iceberg splitting
	Bracket        *BracketSpec // non-nil requests entry+target+stop expansion
}

// BracketSpec describes the OCO exit pair attached to an entry order.
type BracketSpec struct {
	TargetPrice money.Amount
	StopPrice   money.Amount
}
