package queries

import (
	"context"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/google/uuid"
)

// Loader reads appointments, blocks and settings for a range.
type Loader interface {
	Load(ctx context.Context, from, to time.Time, role offline.Role) (offline.View, error)
}

// SlotDTO is one classified grid cell.
type SlotDTO struct {
	Label        string
	Start        time.Time
	End          time.Time
	Availability domain.Availability
}

// AppointmentDTO is an appointment shown on the grid.
type AppointmentDTO struct {
	ID         uuid.UUID
	Title      string
	ClientName string
	Type       domain.AppointmentType
	Status     domain.Status
	Start      time.Time
	End        time.Time
	Recurring  bool
	// Unsynced is set while a change to the appointment waits for replay.
	Unsynced   bool
}

// DayGridDTO is a rendered day.
type DayGridDTO struct {
	Day          time.Time
	Slots        []SlotDTO
	Appointments []AppointmentDTO
	Stale        bool
	FetchedAt    time.Time
	// Unsynced counts the day's appointments that have a queued change.
	Unsynced int
}

// GetDayGridQuery contains the parameters for rendering a day. Days sets how
// many days from Day are loaded into the agenda, so that later reschedules
// can be validated against neighbouring days; it defaults to 1.
type GetDayGridQuery struct {
	Day  time.Time
	Days int
	Role offline.Role
}

// GetDayGridHandler handles the GetDayGridQuery.
type GetDayGridHandler struct {
	loader Loader
	agenda *application.Agenda
	grid   domain.GridConfig
}

// NewGetDayGridHandler creates a new GetDayGridHandler.
func NewGetDayGridHandler(loader Loader, agenda *application.Agenda, grid domain.GridConfig) *GetDayGridHandler {
	return &GetDayGridHandler{loader: loader, agenda: agenda, grid: grid}
}

// Handle loads the range into the agenda and classifies the requested day.
func (h *GetDayGridHandler) Handle(ctx context.Context, query GetDayGridQuery) (*DayGridDTO, error) {
	days := query.Days
	if days <= 0 {
		days = 1
	}
	role := query.Role
	if role == "" {
		role = offline.RoleTrainer
	}
	from := domain.StartOfDay(query.Day)
	view, err := h.loader.Load(ctx, from, from.AddDate(0, 0, days), role)
	if err != nil {
		return nil, err
	}
	h.agenda.Load(view)

	cells := domain.ClassifyDay(from, h.grid, h.agenda.Appointments(), h.agenda.Blocks(), h.agenda.Hours())
	dto := &DayGridDTO{
		Day:          from,
		Slots:        make([]SlotDTO, 0, len(cells)),
		Appointments: []AppointmentDTO{},
		Stale:        view.Stale,
		FetchedAt:    view.FetchedAt,
	}
	for _, c := range cells {
		dto.Slots = append(dto.Slots, SlotDTO{
			Label:        c.Slot.String(),
			Start:        c.Range.Start,
			End:          c.Range.End,
			Availability: c.Availability,
		})
	}
	for _, a := range h.agenda.Appointments() {
		if !domain.SameDay(from, a.Start()) {
			continue
		}
		dto.Appointments = append(dto.Appointments, AppointmentDTO{
			ID:         a.ID(),
			Title:      a.Title(),
			ClientName: a.Client().Name,
			Type:       a.Type(),
			Status:     a.Status(),
			Start:      a.Start(),
			End:        a.End(),
			Recurring:  a.IsRecurring(),
			Unsynced:   view.IsUnsynced(a.ID()),
		})
		if view.IsUnsynced(a.ID()) {
			dto.Unsynced++
		}
	}
	return dto, nil
}
