// Package timeline validates task placements on the sprint's (person, day)
// grid. Capacity is a soft ceiling: over-allocation is flagged as an overage
// warning, never rejected; dependency and day-range violations are rejected.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"tablero/internal/capacity"
	"tablero/internal/graph"
)

// Cell addresses one (person, day) slot. Days are 1-based sprint day
// indexes.
type Cell struct {
	PersonID string `json:"person_id"`
	Day      int    `json:"day"`
}

// Entry is an already-placed task on a person's row. Span > 1 marks a
// continuous task occupying that many contiguous days from Day.
type Entry struct {
	TaskID string
	Day    int
	Span   int
	Hours  float64
}

// Snapshot is the in-memory state the allocator validates against.
type Snapshot struct {
	SprintID string
	Start    time.Time
	Days     int
	Entries  map[string][]Entry // person id -> placed tasks
}

// Placement describes an accepted placement, including soft findings the
// caller must surface.
type Placement struct {
	TaskID    string   `json:"task_id"`
	Cell      Cell     `json:"cell"`
	Available float64  `json:"available"`
	Allocated float64  `json:"allocated"`
	Overage   float64  `json:"overage"`
	Warnings  []string `json:"warnings,omitempty"`
}

// OutOfRangeError reports a day outside the sprint's day range.
type OutOfRangeError struct {
	Day  int
	Span int
	Days int
}

func (e OutOfRangeError) Error() string {
	if e.Span > 1 {
		return fmt.Sprintf("days %d..%d outside sprint range [1,%d]", e.Day, e.Day+e.Span-1, e.Days)
	}
	return fmt.Sprintf("day %d outside sprint range [1,%d]", e.Day, e.Days)
}

// SchedulingBlockedError reports an unsatisfied ESTRICTA dependency.
type SchedulingBlockedError struct {
	TaskID  string
	Pending []string
}

func (e SchedulingBlockedError) Error() string {
	return fmt.Sprintf("task %s blocked by incomplete dependencies: %s",
		e.TaskID, strings.Join(e.Pending, ", "))
}

// Allocator composes capacity, dependency and grid rules over a snapshot.
type Allocator struct {
	Snapshot Snapshot
	Capacity capacity.Calculator
	Graph    *graph.Graph
}

// PlaceTask validates placing the task on (personID, day). span is the
// number of contiguous days a continuous task occupies (1 for normal tasks).
func (a Allocator) PlaceTask(taskID string, hours float64, span int, personID string, day int) (Placement, error) {
	return a.place(taskID, hours, span, personID, day)
}

// MoveTask validates moving a placed task to another cell. The task's own
// entries are ignored when computing the target cell's load, so moving
// within one person's row does not count the task against itself.
func (a Allocator) MoveTask(taskID string, hours float64, span int, from, to Cell) (Placement, error) {
	return a.place(taskID, hours, span, to.PersonID, to.Day)
}

func (a Allocator) place(taskID string, hours float64, span int, personID string, day int) (Placement, error) {
	if span < 1 {
		span = 1
	}
	if day < 1 || day+span-1 > a.Snapshot.Days {
		return Placement{}, OutOfRangeError{Day: day, Span: span, Days: a.Snapshot.Days}
	}
	if !a.Graph.CanSchedule(taskID) {
		return Placement{}, SchedulingBlockedError{TaskID: taskID, Pending: a.Graph.BlockingPredecessors(taskID)}
	}

	p := Placement{TaskID: taskID, Cell: Cell{PersonID: personID, Day: day}}
	for _, dep := range a.Graph.Advisories(taskID) {
		p.Warnings = append(p.Warnings, fmt.Sprintf("SUAVE predecessor %s not completed", dep))
	}

	available, err := a.availableOver(personID, day, span)
	if err != nil {
		return Placement{}, err
	}
	p.Available = available
	p.Allocated = a.allocatedOver(taskID, personID, day, span) + hours
	if over := p.Allocated - p.Available; over > 0 {
		p.Overage = over
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("over-allocation of %.2fh on %s days %d..%d", over, personID, day, day+span-1))
	}

	if span > 1 {
		for _, c := range a.collisions(taskID, personID, day, span) {
			p.Warnings = append(p.Warnings, fmt.Sprintf("continuous task overlaps %s", c))
		}
	}
	return p, nil
}

func (a Allocator) availableOver(personID string, day, span int) (float64, error) {
	start := a.Snapshot.Start.AddDate(0, 0, day-1)
	end := start.AddDate(0, 0, span-1)
	return a.Capacity.Total(personID, capacity.Range{Start: start, End: end})
}

// allocatedOver sums hours of entries overlapping the day window, skipping
// the task being placed.
func (a Allocator) allocatedOver(taskID, personID string, day, span int) float64 {
	var sum float64
	for _, e := range a.Snapshot.Entries[personID] {
		if e.TaskID == taskID {
			continue
		}
		if overlaps(e.Day, e.Span, day, span) {
			sum += e.Hours
		}
	}
	return sum
}

func (a Allocator) collisions(taskID, personID string, day, span int) []string {
	var out []string
	for _, e := range a.Snapshot.Entries[personID] {
		if e.TaskID == taskID || e.Span < 2 {
			continue
		}
		if overlaps(e.Day, e.Span, day, span) {
			out = append(out, e.TaskID)
		}
	}
	return out
}

func overlaps(day1, span1, day2, span2 int) bool {
	if span1 < 1 {
		span1 = 1
	}
	if span2 < 1 {
		span2 = 1
	}
	return day1 <= day2+span2-1 && day2 <= day1+span1-1
}
