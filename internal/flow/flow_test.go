package flow_test

import (
	"errors"
	"testing"

	"tablero/internal/domain"
	"tablero/internal/flow"
)

func TestForwardPath(t *testing.T) {
	s := flow.State{Status: domain.EstadoPendiente}
	res, err := flow.Step(s, domain.EstadoEnProgreso, nil)
	if err != nil || res.State.Status != domain.EstadoEnProgreso {
		t.Fatalf("to EN_PROGRESO: %v", err)
	}
	res, err = flow.Step(res.State, domain.EstadoCompletada, nil)
	if err != nil || res.State.Status != domain.EstadoCompletada {
		t.Fatalf("to COMPLETADA: %v", err)
	}
}

func TestSkippingProgressRejected(t *testing.T) {
	_, err := flow.Step(flow.State{Status: domain.EstadoPendiente}, domain.EstadoCompletada, nil)
	var ite flow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestBlockRequiresCondition(t *testing.T) {
	_, err := flow.Step(flow.State{Status: domain.EstadoEnProgreso}, domain.EstadoBloqueado, nil)
	var ite flow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError without conditions, got %v", err)
	}
	res, err := flow.Step(flow.State{Status: domain.EstadoEnProgreso}, domain.EstadoBloqueado, []string{"imp-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Status != domain.EstadoBloqueado || res.State.Held != domain.EstadoEnProgreso {
		t.Fatalf("unexpected state: %+v", res.State)
	}
}

func TestBlockedReturnsToHeldStatus(t *testing.T) {
	blocked := flow.State{Status: domain.EstadoBloqueado, Held: domain.EstadoEnProgreso}
	res, err := flow.Unblock(blocked, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Status != domain.EstadoEnProgreso {
		t.Fatalf("expected return to EN_PROGRESO, got %s", res.State.Status)
	}
}

func TestUnblockWhileConditionsOpenFails(t *testing.T) {
	blocked := flow.State{Status: domain.EstadoBloqueado, Held: domain.EstadoPendiente}
	_, err := flow.Unblock(blocked, []string{"dep-B"})
	var sbe flow.StillBlockedError
	if !errors.As(err, &sbe) {
		t.Fatalf("expected StillBlockedError, got %v", err)
	}
	if len(sbe.Conditions) != 1 || sbe.Conditions[0] != "dep-B" {
		t.Fatalf("conditions: %v", sbe.Conditions)
	}
}

func TestBlockedFromCompletadaRejected(t *testing.T) {
	_, err := flow.Step(flow.State{Status: domain.EstadoCompletada}, domain.EstadoBloqueado, []string{"imp-1"})
	var ite flow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestReopenFlagged(t *testing.T) {
	res, err := flow.Step(flow.State{Status: domain.EstadoCompletada}, domain.EstadoPendiente, nil)
	if err != nil {
		t.Fatalf("reopen must be permitted: %v", err)
	}
	if !res.Reopened {
		t.Fatal("reopen must be flagged")
	}
	if res.State.Status != domain.EstadoPendiente {
		t.Fatalf("status: %s", res.State.Status)
	}
}

func TestNoopTransition(t *testing.T) {
	s := flow.State{Status: domain.EstadoEnProgreso}
	res, err := flow.Step(s, domain.EstadoEnProgreso, nil)
	if err != nil || res.State != s {
		t.Fatalf("same-status step should be a no-op: %v", err)
	}
}
