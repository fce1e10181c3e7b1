package statemachine

import (
	"testing"

	"tradecore/internal/errkind"
	"tradecore/pkg/domain"
)

func TestTransitionAllowsLegalMoves(t *testing.T) {
	m := New()
	cases := []struct {
		from, to domain.State
	}{
		{domain.StatePending, domain.StateQueued},
		{domain.StateQueued, domain.StateSubmitted},
		{domain.StateSubmitted, domain.StatePartiallyFilled},
		{domain.StatePartiallyFilled, domain.StateFilled},
		{domain.StateSubmitted, domain.StateModifyRequested},
		{domain.StateModifyRequested, domain.StateSubmitted},
	}
	for _, c := range cases {
		next, err := m.Transition(c.from, c.to)
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", c.from, c.to, err)
		}
		if next != c.to {
			t.Fatalf("%s -> %s: expected state %s, got %s", c.from, c.to, c.to, next)
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	m := New()
	_, err := m.Transition(domain.StatePending, domain.StateFilled)
	if err == nil {
		t.Fatalf("expected error for illegal transition")
	}
	if !errkind.Is(err, errkind.InvalidTransition) {
		t.Fatalf("expected InvalidTransition kind, got %v", err)
	}
}

func TestTransitionSelfIsNoOp(t *testing.T) {
	m := New()
	next, err := m.Transition(domain.StateSubmitted, domain.StateSubmitted)
	if err != nil {
		t.Fatalf("unexpected error on self-transition: %v", err)
	}
	if next != domain.StateSubmitted {
		t.Fatalf("expected no-op, got %s", next)
	}
}

func TestTransitionFromTerminalStateFails(t *testing.T) {
	m := New()
	_, err := m.Transition(domain.StateFilled, domain.StateCancelled)
	if err == nil {
		t.Fatalf("expected error transitioning out of a terminal state")
	}
}

func TestTransitionTerminalSelfStillNoOp(t *testing.T) {
	m := New()
	next, err := m.Transition(domain.StateFilled, domain.StateFilled)
	if err != nil {
		t.Fatalf("unexpected error on terminal self-transition: %v", err)
	}
	if next != domain.StateFilled {
		t.Fatalf("expected FILLED, got %s", next)
	}
}
