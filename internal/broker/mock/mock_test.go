package mock

import (
	"context"
	"testing"

	"tradecore/internal/broker"
	"tradecore/pkg/domain"
)

func TestPlaceEmitsAckEvent(t *testing.T) {
	a := New()
	ctx := context.Background()

	events, err := a.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result, err := a.Place(ctx, domain.Order{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !result.Accepted || result.BrokerOrderID == "" {
		t.Fatalf("expected accepted placement with a broker order id, got %+v", result)
	}

	evt := <-events
	if evt.Type != broker.EventAck || evt.BrokerOrderID != result.BrokerOrderID {
		t.Fatalf("expected ack event for %s, got %+v", result.BrokerOrderID, evt)
	}
}

func TestCancelUnknownOrderErrors(t *testing.T) {
	a := New()
	if err := a.Cancel(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error cancelling unknown broker order")
	}
}

func TestCancelEmitsCancelledEvent(t *testing.T) {
	a := New()
	ctx := context.Background()
	events, _ := a.SubscribeEvents(ctx)

	result, _ := a.Place(ctx, domain.Order{OrderID: "ord-2"})
	<-events // drain ack

	if err := a.Cancel(ctx, result.BrokerOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	evt := <-events
	if evt.Type != broker.EventCancelled {
		t.Fatalf("expected cancelled event, got %+v", evt)
	}
}
