package router

import (
	"testing"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

func TestRouteExplicitBrokerWins(t *testing.T) {
	r := New(map[string]string{"EQUITY": "zerodha"}, "upstox")
	broker, err := r.Route(domain.Intent{Broker: "icici"}, domain.InstrumentEquity)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if broker != "icici" {
		t.Fatalf("expected explicit broker icici, got %s", broker)
	}
}

func TestRouteFallsBackToRuleThenDefault(t *testing.T) {
	r := New(map[string]string{"EQUITY": "zerodha"}, "upstox")

	broker, err := r.Route(domain.Intent{}, domain.InstrumentEquity)
	if err != nil || broker != "zerodha" {
		t.Fatalf("expected zerodha from routing rule, got %s (err %v)", broker, err)
	}

	broker, err = r.Route(domain.Intent{}, domain.InstrumentFuture)
	if err != nil || broker != "upstox" {
		t.Fatalf("expected default broker upstox, got %s (err %v)", broker, err)
	}
}

func TestRouteErrorsWithNoResolution(t *testing.T) {
	r := New(nil, "")
	if _, err := r.Route(domain.Intent{}, domain.InstrumentEquity); err == nil {
		t.Fatalf("expected error when no broker can be resolved")
	}
}

func TestSplitIcebergSumsToParentQuantity(t *testing.T) {
	parent := domain.Order{OrderID: "parent-1", Quantity: 23, Price: money.New(100), Side: domain.SideBuy}
	children, err := SplitIceberg(parent, 10)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	var total int64
	for _, c := range children {
		if c.Quantity < 1 || c.Quantity > 10 {
			t.Fatalf("child quantity %d out of [1,10] range", c.Quantity)
		}
		if c.ParentID != parent.OrderID {
			t.Fatalf("expected parent id %s, got %s", parent.OrderID, c.ParentID)
		}
		total += c.Quantity
	}
	if total != parent.Quantity {
		t.Fatalf("expected children to sum to %d, got %d", parent.Quantity, total)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children (10+10+3), got %d", len(children))
	}
}

func TestSplitIcebergRejectsNonPositiveVisibleQty(t *testing.T) {
	_, err := SplitIceberg(domain.Order{Quantity: 10}, 0)
	if err == nil {
		t.Fatalf("expected error for zero visible quantity")
	}
}

func TestExpandBracketSharesGroupIDAndFlipsSide(t *testing.T) {
	entry := domain.Order{OrderID: "entry-1", Side: domain.SideBuy, Price: money.New(100), Quantity: 5}
	b := ExpandBracket(entry, money.New(110), money.New(95))

	if b.Target.GroupID != b.Stop.GroupID {
		t.Fatalf("expected target and stop to share a group id")
	}
	if b.Target.Side != domain.SideSell || b.Stop.Side != domain.SideSell {
		t.Fatalf("expected both exits to be on the opposite side of the entry")
	}
	if b.Target.ParentID != entry.OrderID || b.Stop.ParentID != entry.OrderID {
		t.Fatalf("expected exits to reference the entry as parent")
	}
}
