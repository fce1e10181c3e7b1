// Package broker defines the uniform contract every broker integration
// implements: place/modify/cancel, position/holding/order snapshots,
// and an ordered event stream. Sub-packages auth, ratelimit, rest, and
// stream provide the building blocks a concrete REST+WebSocket adapter
// composes; mock provides a deterministic in-process adapter for tests
// and dry-run mode.
package broker

import (
	"context"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// EventType enumerates the lifecycle events a broker's stream delivers.
type EventType string

const (
	EventAck          EventType = "ack"
	EventPartialFill  EventType = "partial_fill"
	EventFill         EventType = "fill"
	EventReject       EventType = "reject"
	EventCancelled    EventType = "cancelled"
	EventExpired      EventType = "expired"
)

// Event is one message on a broker's order event stream. Sequence is
// the broker's per-BrokerOrderID sequence number; the coordinator does
// not read it, so redelivered or out-of-order events are not detected
// by sequence.
type Event struct {
	Type           EventType
	BrokerOrderID  string
	Sequence       int64
	FillQty        int64        // populated for partial_fill/fill: quantity traded by this event
	FillPrice      money.Amount // populated for partial_fill/fill
	CumulativeQty  int64        // total filled quantity on the order so far
	Reason         string       // populated for reject/cancelled/expired
}

// PlaceResult is returned synchronously from Place; the broker's own
// ack/reject always also arrives on the event stream, but adapters that
// can reject inline (e.g. dry-run) return it here too so the caller
// doesn't have to wait on the stream for the common case.
type PlaceResult struct {
	BrokerOrderID string
	Accepted      bool
	RejectReason  string
}

// Adapter is the capability set required of every broker integration.
type Adapter interface {
	Place(ctx context.Context, o domain.Order) (PlaceResult, error)
	Modify(ctx context.Context, o domain.Order) error
	Cancel(ctx context.Context, brokerOrderID string) error

	FetchOpenOrders(ctx context.Context) ([]domain.Order, error)
	FetchPositions(ctx context.Context) ([]domain.Position, error)
	FetchHoldings(ctx context.Context) ([]domain.Holding, error)

	// SubscribeEvents returns a channel delivering ordered lifecycle
	// events until ctx is cancelled. Implementations must auto-reconnect
	// internally; callers see a single long-lived channel.
	SubscribeEvents(ctx context.Context) (<-chan Event, error)
}
