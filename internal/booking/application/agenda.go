package application

import (
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/google/uuid"
)

// Agenda is the in-memory set of appointments, blocks and settings used for
// rendering and validation during a session. Reads return copies.
type Agenda struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*domain.Appointment
	blocks       []*domain.Block
	hours        *domain.WorkingHours
	rest         *domain.RestConfig
	window       domain.TimeRange
	stale        bool
	loadedAt     time.Time
}

// NewAgenda creates an empty agenda.
func NewAgenda() *Agenda {
	return &Agenda{appointments: make(map[uuid.UUID]*domain.Appointment)}
}

// Load replaces the agenda contents with a view.
func (a *Agenda) Load(view offline.View) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appointments = make(map[uuid.UUID]*domain.Appointment, len(view.Appointments))
	for _, appt := range view.Appointments {
		a.appointments[appt.ID()] = appt.Clone()
	}
	a.blocks = slices.Clone(view.Blocks)
	a.hours = view.Hours
	a.rest = view.Rest
	a.window = view.Range
	a.stale = view.Stale
	a.loadedAt = time.Now().UTC()
}

// Get returns a copy of the appointment with id.
func (a *Agenda) Get(id uuid.UUID) (*domain.Appointment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	appt, ok := a.appointments[id]
	if !ok {
		return nil, false
	}
	return appt.Clone(), true
}

// Replace stores appt by id, adding it if absent.
func (a *Agenda) Replace(appt *domain.Appointment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appointments[appt.ID()] = appt.Clone()
}

// Appointments returns copies ordered by start.
func (a *Agenda) Appointments() []*domain.Appointment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*domain.Appointment, 0, len(a.appointments))
	for _, appt := range a.appointments {
		out = append(out, appt.Clone())
	}
	slices.SortFunc(out, func(x, y *domain.Appointment) int { return x.Start().Compare(y.Start()) })
	return out
}

// Blocks returns the loaded blocks.
func (a *Agenda) Blocks() []*domain.Block {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.blocks)
}

// Hours returns the working hours, or nil when unrestricted.
func (a *Agenda) Hours() *domain.WorkingHours {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hours
}

// Rest returns the rest rule, or nil when none applies.
func (a *Agenda) Rest() *domain.RestConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.rest == nil {
		return nil
	}
	r := *a.rest
	return &r
}

// Window returns the loaded range.
func (a *Agenda) Window() domain.TimeRange {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window
}

// Stale reports whether the agenda was loaded from the local cache.
func (a *Agenda) Stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stale
}
