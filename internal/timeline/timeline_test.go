package timeline_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tablero/internal/capacity"
	"tablero/internal/domain"
	"tablero/internal/graph"
	"tablero/internal/timeline"
)

func testAllocator(statuses map[string]string, entries map[string][]timeline.Entry) timeline.Allocator {
	g := graph.New(func(id string) string { return statuses[id] })
	return timeline.Allocator{
		Snapshot: timeline.Snapshot{
			SprintID: "sprint-1",
			Start:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), // a Monday
			Days:     10,
			Entries:  entries,
		},
		Capacity: capacity.Calculator{
			Profiles: map[string]capacity.WeeklyProfile{
				"ana": {
					time.Monday: 8, time.Tuesday: 8, time.Wednesday: 8,
					time.Thursday: 8, time.Friday: 8,
				},
			},
		},
		Graph: g,
	}
}

func TestPlaceTaskAccepted(t *testing.T) {
	a := testAllocator(nil, nil)
	p, err := a.PlaceTask("t1", 4, 1, "ana", 3)
	if err != nil {
		t.Fatal(err)
	}
	if p.Cell != (timeline.Cell{PersonID: "ana", Day: 3}) {
		t.Fatalf("cell: %+v", p.Cell)
	}
	if p.Overage != 0 || len(p.Warnings) != 0 {
		t.Fatalf("unexpected findings: %+v", p)
	}
}

func TestPlaceTaskDayOutOfRange(t *testing.T) {
	a := testAllocator(nil, nil)
	_, err := a.PlaceTask("t1", 4, 1, "ana", 11)
	var oor timeline.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("expected OutOfRangeError, got %v", err)
	}
	if oor.Day != 11 || oor.Days != 10 {
		t.Fatalf("error detail: %+v", oor)
	}
	if _, err := a.PlaceTask("t1", 4, 1, "ana", 0); err == nil {
		t.Fatal("day 0 must be rejected")
	}
	// continuous task spilling past the sprint end
	if _, err := a.PlaceTask("t1", 4, 3, "ana", 9); err == nil {
		t.Fatal("span past sprint end must be rejected")
	}
}

func TestPlaceTaskDependencyBlocked(t *testing.T) {
	statuses := map[string]string{"t1": domain.EstadoPendiente, "t0": domain.EstadoPendiente}
	a := testAllocator(statuses, nil)
	if err := a.Graph.AddDependency(domain.Dependency{ID: "d1", OriginID: "t1", DestID: "t0", Kind: domain.DependenciaEstricta}); err != nil {
		t.Fatal(err)
	}
	_, err := a.PlaceTask("t1", 4, 1, "ana", 2)
	var sbe timeline.SchedulingBlockedError
	if !errors.As(err, &sbe) {
		t.Fatalf("expected SchedulingBlockedError, got %v", err)
	}
	if len(sbe.Pending) != 1 || sbe.Pending[0] != "t0" {
		t.Fatalf("pending: %v", sbe.Pending)
	}

	statuses["t0"] = domain.EstadoCompletada
	if _, err := a.PlaceTask("t1", 4, 1, "ana", 2); err != nil {
		t.Fatalf("should place after predecessor completes: %v", err)
	}
}

func TestPlaceTaskSoftDependencyWarns(t *testing.T) {
	statuses := map[string]string{"t1": domain.EstadoPendiente, "t0": domain.EstadoPendiente}
	a := testAllocator(statuses, nil)
	if err := a.Graph.AddDependency(domain.Dependency{ID: "d1", OriginID: "t1", DestID: "t0", Kind: domain.DependenciaSuave}); err != nil {
		t.Fatal(err)
	}
	p, err := a.PlaceTask("t1", 4, 1, "ana", 2)
	if err != nil {
		t.Fatalf("SUAVE must not reject: %v", err)
	}
	if len(p.Warnings) != 1 || !strings.Contains(p.Warnings[0], "t0") {
		t.Fatalf("warnings: %v", p.Warnings)
	}
}

func TestPlaceTaskOverageFlaggedNotRejected(t *testing.T) {
	entries := map[string][]timeline.Entry{
		"ana": {{TaskID: "t9", Day: 2, Span: 1, Hours: 6}},
	}
	a := testAllocator(nil, entries)
	p, err := a.PlaceTask("t1", 5, 1, "ana", 2)
	if err != nil {
		t.Fatalf("overage must not reject: %v", err)
	}
	if p.Overage != 3 {
		t.Fatalf("overage: %v", p.Overage)
	}
	if len(p.Warnings) == 0 || !strings.Contains(p.Warnings[0], "over-allocation") {
		t.Fatalf("warnings: %v", p.Warnings)
	}
}

func TestContinuousCollisionWarns(t *testing.T) {
	entries := map[string][]timeline.Entry{
		"ana": {{TaskID: "t9", Day: 2, Span: 3, Hours: 6}},
	}
	a := testAllocator(nil, entries)
	p, err := a.PlaceTask("t1", 4, 2, "ana", 3)
	if err != nil {
		t.Fatalf("collision must not reject: %v", err)
	}
	found := false
	for _, w := range p.Warnings {
		if strings.Contains(w, "overlaps t9") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected collision warning, got %v", p.Warnings)
	}
}

func TestMoveTaskIgnoresOwnHours(t *testing.T) {
	entries := map[string][]timeline.Entry{
		"ana": {{TaskID: "t1", Day: 2, Span: 1, Hours: 8}},
	}
	a := testAllocator(nil, entries)
	p, err := a.MoveTask("t1", 8, 1,
		timeline.Cell{PersonID: "ana", Day: 2},
		timeline.Cell{PersonID: "ana", Day: 3})
	if err != nil {
		t.Fatal(err)
	}
	if p.Overage != 0 {
		t.Fatalf("own hours counted against the move: %+v", p)
	}
}

func TestMoveTaskValidatedLikePlacement(t *testing.T) {
	a := testAllocator(nil, nil)
	_, err := a.MoveTask("t1", 4, 1,
		timeline.Cell{PersonID: "ana", Day: 2},
		timeline.Cell{PersonID: "ana", Day: 12})
	var oor timeline.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("expected OutOfRangeError on move, got %v", err)
	}
}
