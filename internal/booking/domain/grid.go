package domain

import (
	"fmt"
	"iter"
	"time"
)

// Slot is one grid cell, identified by its start time of day.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// On returns the slot's interval on the given day.
func (s Slot) On(day time.Time, slotMinutes int) TimeRange {
	start := StartOfDay(day).Add(time.Duration(s.Hour)*time.Hour + time.Duration(s.Minute)*time.Minute)
	return TimeRange{Start: start, End: start.Add(time.Duration(slotMinutes) * time.Minute)}
}

// Slots yields every slot start in [openHour, closeHour) at slotMinutes
// resolution. Each range over the result starts from the beginning.
//
// Callers must ensure openHour < closeHour and that slotMinutes divides 60.
func Slots(openHour, closeHour, slotMinutes int) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for h := openHour; h < closeHour; h++ {
			for m := 0; m < 60; m += slotMinutes {
				if !yield(Slot{Hour: h, Minute: m}) {
					return
				}
			}
		}
	}
}

// GridConfig holds the global grid bounds.
type GridConfig struct {
	OpenHour    int
	CloseHour   int
	SlotMinutes int
}

// DefaultGridConfig is 06:00-22:00 in 30 minute slots.
func DefaultGridConfig() GridConfig {
	return GridConfig{OpenHour: 6, CloseHour: 22, SlotMinutes: 30}
}

// Slots yields the configured grid.
func (g GridConfig) Slots() iter.Seq[Slot] {
	return Slots(g.OpenHour, g.CloseHour, g.SlotMinutes)
}

// SlotRange returns the interval of slot on day.
func (g GridConfig) SlotRange(day time.Time, slot Slot) TimeRange {
	return slot.On(day, g.SlotMinutes)
}

// InBounds reports whether t's hour lies within [OpenHour, CloseHour).
func (g GridConfig) InBounds(t time.Time) bool {
	return t.Hour() >= g.OpenHour && t.Hour() < g.CloseHour
}
