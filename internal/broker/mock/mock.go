// Package mock provides a deterministic, in-process Adapter used by
// tests and by dry_run configuration, short-circuiting placement and
// cancellation the way a live client's dry-run mode would.
package mock

import (
	"context"
	"fmt"
	"sync"

	"tradecore/internal/broker"
	"tradecore/pkg/domain"
)

// Adapter is a fully in-memory broker. Place always accepts and
// immediately queues an "ack" event; tests drive fills and rejections
// explicitly via Emit/Reject so scenarios are deterministic.
type Adapter struct {
	mu       sync.Mutex
	seq      int64
	orders   map[string]domain.Order // brokerOrderID -> order
	eventCh  chan broker.Event
	nextID   int
}

// New returns an empty mock adapter.
func New() *Adapter {
	return &Adapter{
		orders:  make(map[string]domain.Order),
		eventCh: make(chan broker.Event, 256),
	}
}

func (a *Adapter) Place(ctx context.Context, o domain.Order) (broker.PlaceResult, error) {
	a.mu.Lock()
	a.nextID++
	brokerOrderID := fmt.Sprintf("mock-%d", a.nextID)
	o.BrokerOrderID = brokerOrderID
	a.orders[brokerOrderID] = o
	a.mu.Unlock()

	a.emit(broker.Event{Type: broker.EventAck, BrokerOrderID: brokerOrderID})
	return broker.PlaceResult{BrokerOrderID: brokerOrderID, Accepted: true}, nil
}

func (a *Adapter) Modify(ctx context.Context, o domain.Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.orders[o.BrokerOrderID]; !ok {
		return fmt.Errorf("unknown broker order %q", o.BrokerOrderID)
	}
	a.orders[o.BrokerOrderID] = o
	return nil
}

func (a *Adapter) Cancel(ctx context.Context, brokerOrderID string) error {
	a.mu.Lock()
	_, ok := a.orders[brokerOrderID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown broker order %q", brokerOrderID)
	}
	a.emit(broker.Event{Type: broker.EventCancelled, BrokerOrderID: brokerOrderID})
	return nil
}

func (a *Adapter) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Order, 0, len(a.orders))
	for _, o := range a.orders {
		if !o.State.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (a *Adapter) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (a *Adapter) FetchHoldings(ctx context.Context) ([]domain.Holding, error) {
	return nil, nil
}

func (a *Adapter) SubscribeEvents(ctx context.Context) (<-chan broker.Event, error) {
	return a.eventCh, nil
}

func (a *Adapter) emit(evt broker.Event) {
	a.mu.Lock()
	a.seq++
	evt.Sequence = a.seq
	a.mu.Unlock()
	a.eventCh <- evt
}

// Reject lets a test push a reject event for a given broker order.
func (a *Adapter) Reject(brokerOrderID, reason string) {
	a.emit(broker.Event{Type: broker.EventReject, BrokerOrderID: brokerOrderID, Reason: reason})
}

// Emit exposes event injection directly for tests that need full
// control over the event payload (fill quantity/price/cumulative).
func (a *Adapter) Emit(evt broker.Event) {
	a.emit(evt)
}
