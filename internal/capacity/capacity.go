package capacity

import (
	"fmt"
	"time"
)

// DayFormat is the key format for per-day hour maps.
const DayFormat = "2006-01-02"

// WeeklyProfile maps a weekday to nominal working hours. Weekdays without an
// entry contribute zero, so weekends count only when explicitly configured.
type WeeklyProfile map[time.Weekday]float64

// Range is an inclusive calendar date range.
type Range struct {
	Start time.Time
	End   time.Time
}

// Leave is a vacation or absence window. A nil End means the leave is
// open-ended and covers every day from Start onward.
type Leave struct {
	PersonID string
	Start    time.Time
	End      *time.Time
}

// InvalidRangeError reports a range whose end precedes its start.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: end %s before start %s",
		e.End.Format(DayFormat), e.Start.Format(DayFormat))
}

// Calculator computes available hours per day from an in-memory snapshot of
// schedule profiles, holiday calendars and leave records. It holds no mutable
// state and performs no I/O.
type Calculator struct {
	Profiles  map[string]WeeklyProfile
	Locations map[string]string      // person id -> location
	Holidays  map[string][]time.Time // location -> holiday dates
	Vacations []Leave
	Absences  []Leave
}

// Available returns the person's available hours for each day of rng, keyed
// by DayFormat. Days on holiday or inside a vacation or absence window yield
// zero. When both a vacation and an absence cover the same day the absence
// wins; the result is the same (zero hours) but the precedence matters to
// callers attributing the reduction.
//
// A person with no schedule profile gets a zero-filled map rather than an
// error: such a person simply has no hours to plan.
func (c Calculator) Available(personID string, rng Range) (map[string]float64, error) {
	start := dateOnly(rng.Start)
	end := dateOnly(rng.End)
	if end.Before(start) {
		return nil, InvalidRangeError{Start: rng.Start, End: rng.End}
	}
	out := make(map[string]float64)
	profile := c.Profiles[personID]
	holidays := c.holidaySet(personID)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(DayFormat)
		if profile == nil {
			out[key] = 0
			continue
		}
		hours := profile[d.Weekday()]
		switch {
		case holidays[key]:
			hours = 0
		case c.onLeave(c.Absences, personID, d):
			hours = 0
		case c.onLeave(c.Vacations, personID, d):
			hours = 0
		}
		out[key] = hours
	}
	return out, nil
}

// Total sums Available over the range.
func (c Calculator) Total(personID string, rng Range) (float64, error) {
	days, err := c.Available(personID, rng)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, h := range days {
		total += h
	}
	return total, nil
}

func (c Calculator) holidaySet(personID string) map[string]bool {
	loc := c.Locations[personID]
	set := make(map[string]bool)
	for _, d := range c.Holidays[loc] {
		set[dateOnly(d).Format(DayFormat)] = true
	}
	return set
}

func (c Calculator) onLeave(leaves []Leave, personID string, day time.Time) bool {
	for _, l := range leaves {
		if l.PersonID != personID {
			continue
		}
		start := dateOnly(l.Start)
		if day.Before(start) {
			continue
		}
		if l.End == nil {
			return true
		}
		if !day.After(dateOnly(*l.End)) {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
