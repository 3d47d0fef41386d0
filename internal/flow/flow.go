// Package flow implements the task status machine.
//
// PENDIENTE -> EN_PROGRESO -> COMPLETADA is the forward path. BLOQUEADO is
// reachable from PENDIENTE or EN_PROGRESO while at least one blocking
// condition (open impediment or incomplete ESTRICTA predecessor) is active,
// and resolves back to the status held before blocking. COMPLETADA ->
// PENDIENTE reopens a task; it is legal but flagged so callers can log it.
package flow

import (
	"fmt"
	"strings"

	"tablero/internal/domain"
)

// State is a task's position in the machine. Held is only meaningful while
// Status is BLOQUEADO and records where to return on unblock.
type State struct {
	Status string
	Held   string
}

// Result is the outcome of a successful transition.
type Result struct {
	State    State
	Reopened bool
}

// InvalidTransitionError reports a transition outside the machine.
type InvalidTransitionError struct {
	From string
	To   string
	Why  string
}

func (e InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
	if e.Why != "" {
		msg += ": " + e.Why
	}
	return msg
}

// StillBlockedError reports an attempt to leave BLOQUEADO while blocking
// conditions remain open.
type StillBlockedError struct {
	Conditions []string
}

func (e StillBlockedError) Error() string {
	return fmt.Sprintf("task still blocked by: %s", strings.Join(e.Conditions, ", "))
}

// Step applies one transition. openConditions are the currently active
// blocking conditions for the task (impediment ids, predecessor task ids).
func Step(cur State, to string, openConditions []string) (Result, error) {
	if cur.Status == "" {
		cur.Status = domain.EstadoPendiente
	}
	if to == cur.Status {
		return Result{State: cur}, nil
	}

	if to == domain.EstadoBloqueado {
		if cur.Status != domain.EstadoPendiente && cur.Status != domain.EstadoEnProgreso {
			return Result{}, InvalidTransitionError{From: cur.Status, To: to}
		}
		if len(openConditions) == 0 {
			return Result{}, InvalidTransitionError{From: cur.Status, To: to, Why: "no active blocking condition"}
		}
		return Result{State: State{Status: domain.EstadoBloqueado, Held: cur.Status}}, nil
	}

	if cur.Status == domain.EstadoBloqueado {
		if len(openConditions) > 0 {
			return Result{}, StillBlockedError{Conditions: openConditions}
		}
		if to != cur.Held {
			return Result{}, InvalidTransitionError{From: cur.Status, To: to,
				Why: fmt.Sprintf("unblocking returns to %s", cur.Held)}
		}
		return Result{State: State{Status: cur.Held}}, nil
	}

	switch cur.Status {
	case domain.EstadoPendiente:
		if to == domain.EstadoEnProgreso {
			return Result{State: State{Status: to}}, nil
		}
	case domain.EstadoEnProgreso:
		if to == domain.EstadoCompletada {
			return Result{State: State{Status: to}}, nil
		}
	case domain.EstadoCompletada:
		// Reopening is permitted but must be logged by the caller.
		if to == domain.EstadoPendiente {
			return Result{State: State{Status: to}, Reopened: true}, nil
		}
	}
	return Result{}, InvalidTransitionError{From: cur.Status, To: to}
}

// Unblock resolves BLOQUEADO back to the held status.
func Unblock(cur State, openConditions []string) (Result, error) {
	if cur.Status != domain.EstadoBloqueado {
		return Result{}, InvalidTransitionError{From: cur.Status, To: cur.Held, Why: "task is not blocked"}
	}
	return Step(cur, cur.Held, openConditions)
}
