package domain

import "time"

// Availability is the classification of one slot.
type Availability string

const (
	AvailabilityFree         Availability = "free"
	AvailabilityBooked       Availability = "booked"
	AvailabilityBlocked      Availability = "blocked"
	AvailabilityOutsideHours Availability = "outside-hours"
)

// Classify determines a slot's availability. Order matters: blocks win over
// everything, and an existing appointment is reported as booked even when it
// lies outside working hours. hours may be nil.
func Classify(day time.Time, slot Slot, slotMinutes int, appointments []*Appointment, blocks []*Block, hours *WorkingHours) Availability {
	r := slot.On(day, slotMinutes)

	for _, b := range blocks {
		if b.Covers(r) {
			return AvailabilityBlocked
		}
	}

	for _, a := range appointments {
		if !a.Occupies() || !SameDay(r.Start, a.Start()) {
			continue
		}
		if a.Range().Overlaps(r) {
			return AvailabilityBooked
		}
	}

	if hours != nil && !hours.Contains(r) {
		return AvailabilityOutsideHours
	}
	return AvailabilityFree
}

// SlotAvailability is one classified cell of a day.
type SlotAvailability struct {
	Slot         Slot
	Range        TimeRange
	Availability Availability
}

// ClassifyDay classifies every slot of the grid on day.
func ClassifyDay(day time.Time, grid GridConfig, appointments []*Appointment, blocks []*Block, hours *WorkingHours) []SlotAvailability {
	var out []SlotAvailability
	for slot := range grid.Slots() {
		out = append(out, SlotAvailability{
			Slot:         slot,
			Range:        grid.SlotRange(day, slot),
			Availability: Classify(day, slot, grid.SlotMinutes, appointments, blocks, hours),
		})
	}
	return out
}
