package domain

import (
	"slices"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
)

// Snapshot is a cached copy of what the remote store returned for a range.
// It is always overwritable and never assumed fresh.
type Snapshot struct {
	Range        booking.TimeRange
	Appointments []*booking.Appointment
	Blocks       []*booking.Block
	Hours        *booking.WorkingHours
	Rest         *booking.RestConfig
	FetchedAt    time.Time
}

// View is what a read returns. Stale is set when the data came from the
// local cache instead of the remote store. Unsynced lists appointments shown
// with a queued change that has not reached the remote store.
type View struct {
	Snapshot
	Stale    bool
	Unsynced []uuid.UUID
}

// ApplyPending overlays queued changes, oldest first, so a read agrees with
// the writes made while offline. The cached snapshot itself is not changed.
// Appointments whose intended start falls outside the range are dropped, and
// only appointments left in the view are marked unsynced.
func (v *View) ApplyPending(changes []PendingChange) {
	if len(changes) == 0 {
		return
	}
	byID := make(map[uuid.UUID]*booking.Appointment, len(v.Appointments))
	order := make([]uuid.UUID, 0, len(v.Appointments))
	for _, a := range v.Appointments {
		byID[a.ID()] = a
		order = append(order, a.ID())
	}
	changed := make(map[uuid.UUID]bool, len(changes))
	for _, c := range changes {
		if _, seen := byID[c.AppointmentID]; !seen {
			order = append(order, c.AppointmentID)
		}
		changed[c.AppointmentID] = true
		if c.Kind == ChangeDelete {
			byID[c.AppointmentID] = nil
			continue
		}
		byID[c.AppointmentID] = c.Appointment()
	}

	appointments := make([]*booking.Appointment, 0, len(order))
	var unsynced []uuid.UUID
	for _, id := range order {
		a := byID[id]
		if a == nil || a.Start().Before(v.Range.Start) || !a.Start().Before(v.Range.End) {
			continue
		}
		appointments = append(appointments, a)
		if changed[id] || slices.Contains(v.Unsynced, id) {
			unsynced = append(unsynced, id)
		}
	}
	v.Unsynced = unsynced
	slices.SortStableFunc(appointments, func(a, b *booking.Appointment) int {
		return a.Start().Compare(b.Start())
	})
	v.Appointments = appointments
}

// IsUnsynced reports whether id has a queued change.
func (v View) IsUnsynced(id uuid.UUID) bool {
	return slices.Contains(v.Unsynced, id)
}

// WriteResult is the outcome of a write. Queued means the change was stored
// locally for replay and has not reached the remote store yet.
type WriteResult struct {
	Appointment *booking.Appointment
	Queued      bool
}

// HoursState is the serialisable form of working hours.
type HoursState map[time.Weekday][]booking.ClockRange

// HoursToState converts working hours for storage. nil stays nil.
func HoursToState(h *booking.WorkingHours) HoursState {
	if h == nil {
		return nil
	}
	return HoursState(h.Days())
}

// HoursFromState restores working hours; an empty state means none.
func HoursFromState(s HoursState) (*booking.WorkingHours, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return booking.NewWorkingHours(s)
}
