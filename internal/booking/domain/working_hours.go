package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrInvalidClockRange = errors.New("working hours range must start before it ends within one day")
	ErrOverlappingHours  = errors.New("working hours ranges overlap")
)

const minutesPerDay = 24 * 60

// ClockRange is a window within a day, in minutes since midnight, [From, To).
type ClockRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// NewClockRange builds a range from hour/minute pairs.
func NewClockRange(fromHour, fromMinute, toHour, toMinute int) ClockRange {
	return ClockRange{From: fromHour*60 + fromMinute, To: toHour*60 + toMinute}
}

func (c ClockRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", c.From/60, c.From%60, c.To/60, c.To%60)
}

// WorkingHours maps each weekday to its open windows. Breaks are the gaps
// between consecutive windows; a weekday without windows is closed.
type WorkingHours struct {
	days map[time.Weekday][]ClockRange
}

// NewWorkingHours validates and sorts the windows of each weekday.
func NewWorkingHours(days map[time.Weekday][]ClockRange) (*WorkingHours, error) {
	wh := &WorkingHours{days: make(map[time.Weekday][]ClockRange, len(days))}
	for day, ranges := range days {
		sorted := slices.Clone(ranges)
		slices.SortFunc(sorted, func(a, b ClockRange) int { return a.From - b.From })
		for i, r := range sorted {
			if r.From < 0 || r.To > minutesPerDay || r.From >= r.To {
				return nil, fmt.Errorf("%w: %s %s", ErrInvalidClockRange, day, r)
			}
			if i > 0 && sorted[i-1].To > r.From {
				return nil, fmt.Errorf("%w: %s %s and %s", ErrOverlappingHours, day, sorted[i-1], r)
			}
		}
		wh.days[day] = sorted
	}
	return wh, nil
}

// Ranges returns the windows for a weekday, in order.
func (w *WorkingHours) Ranges(day time.Weekday) []ClockRange {
	return slices.Clone(w.days[day])
}

// Days returns the configured map, copied.
func (w *WorkingHours) Days() map[time.Weekday][]ClockRange {
	out := make(map[time.Weekday][]ClockRange, len(w.days))
	for d, r := range w.days {
		out[d] = slices.Clone(r)
	}
	return out
}

// Contains reports whether r lies entirely inside a single window of its
// start's weekday. Intervals crossing midnight are never contained.
func (w *WorkingHours) Contains(r TimeRange) bool {
	from := minuteOfDay(r.Start, r.Start)
	to := minuteOfDay(r.Start, r.End)
	for _, window := range w.days[r.Start.Weekday()] {
		if from >= window.From && to <= window.To {
			return true
		}
	}
	return false
}
