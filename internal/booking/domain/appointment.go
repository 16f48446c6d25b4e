package domain

import (
	"errors"
	"fmt"
	"time"

	sharedDomain "github.com/felixgeelhaar/agenda/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrInvalidTimeRange    = errors.New("end time must be after start time")
	ErrInvalidStatus       = errors.New("unknown appointment status")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrAppointmentClosed   = errors.New("appointment is no longer active")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrMissingCancelReason = errors.New("cancellation requires a reason")
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// Only pending and confirmed may move back and forth.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusPending, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// ParseStatus validates a textual status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

// AppointmentType classifies the session.
type AppointmentType string

const (
	TypeOneOnOne    AppointmentType = "session-1-1"
	TypeVideoCall   AppointmentType = "video-call"
	TypeAssessment  AppointmentType = "assessment"
	TypeGroupClass  AppointmentType = "group-class"
	TypePhysio      AppointmentType = "physio"
	TypeMaintenance AppointmentType = "maintenance"
	TypeOther       AppointmentType = "other"
)

// Source records how the appointment was booked.
type Source string

const (
	SourceManual     Source = "manual"
	SourcePublicLink Source = "public-link"
	SourceAPI        Source = "api"
	SourceSync       Source = "sync"
)

// CancelReason says which party cancelled.
type CancelReason string

const (
	CancelByClient  CancelReason = "client"
	CancelByTrainer CancelReason = "trainer"
	CancelOther     CancelReason = "other"
)

// HistoryKind is the kind of change recorded on an appointment.
type HistoryKind string

const (
	HistoryCreated     HistoryKind = "created"
	HistoryEdited      HistoryKind = "edited"
	HistoryCancelled   HistoryKind = "cancelled"
	HistoryRescheduled HistoryKind = "rescheduled"
)

// FieldChange is one field's before/after value.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// HistoryEntry is an audit record of one change.
type HistoryEntry struct {
	At      time.Time     `json:"at"`
	Kind    HistoryKind   `json:"kind"`
	Reason  string        `json:"reason,omitempty"`
	Changes []FieldChange `json:"changes,omitempty"`
}

// Client identifies who the session is booked for.
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Appointment is a scheduled session. Appointments are never deleted; they
// only move through status transitions.
type Appointment struct {
	sharedDomain.BaseEntity
	title        string
	kind         AppointmentType
	status       Status
	client       Client
	trainerID    string
	start        time.Time
	end          time.Time
	source       Source
	seriesID     *uuid.UUID
	cancelReason CancelReason
	cancelDetail string
	notes        string
	history      []HistoryEntry
}

// NewAppointmentParams carries the fields needed to book an appointment.
type NewAppointmentParams struct {
	Title     string
	Type      AppointmentType
	Client    Client
	TrainerID string
	Start     time.Time
	End       time.Time
	Source    Source
	SeriesID  *uuid.UUID
	Notes     string
}

// NewAppointment books a pending appointment.
func NewAppointment(p NewAppointmentParams) (*Appointment, error) {
	if !p.End.After(p.Start) {
		return nil, ErrInvalidTimeRange
	}
	if p.Type == "" {
		p.Type = TypeOneOnOne
	}
	if p.Source == "" {
		p.Source = SourceManual
	}
	a := &Appointment{
		BaseEntity: sharedDomain.NewBaseEntity(),
		title:      p.Title,
		kind:       p.Type,
		status:     StatusPending,
		client:     p.Client,
		trainerID:  p.TrainerID,
		start:      p.Start,
		end:        p.End,
		source:     p.Source,
		seriesID:   p.SeriesID,
		notes:      p.Notes,
	}
	a.history = append(a.history, HistoryEntry{At: a.CreatedAt(), Kind: HistoryCreated})
	return a, nil
}

// Getters
func (a *Appointment) Title() string              { return a.title }
func (a *Appointment) Type() AppointmentType      { return a.kind }
func (a *Appointment) Status() Status             { return a.status }
func (a *Appointment) Client() Client             { return a.client }
func (a *Appointment) TrainerID() string          { return a.trainerID }
func (a *Appointment) Start() time.Time           { return a.start }
func (a *Appointment) End() time.Time             { return a.end }
func (a *Appointment) Source() Source             { return a.source }
func (a *Appointment) SeriesID() *uuid.UUID       { return a.seriesID }
func (a *Appointment) CancelReason() CancelReason { return a.cancelReason }
func (a *Appointment) CancelDetail() string       { return a.cancelDetail }
func (a *Appointment) Notes() string              { return a.notes }
func (a *Appointment) History() []HistoryEntry    { return append([]HistoryEntry(nil), a.history...) }

// Range returns the booked interval.
func (a *Appointment) Range() TimeRange {
	return TimeRange{Start: a.start, End: a.end}
}

// Duration returns the booked length.
func (a *Appointment) Duration() time.Duration {
	return a.end.Sub(a.start)
}

// Occupies reports whether the appointment holds its slot. Cancelled
// sessions free their time.
func (a *Appointment) Occupies() bool {
	return a.status != StatusCancelled
}

// IsRecurring reports whether the appointment belongs to a series.
func (a *Appointment) IsRecurring() bool {
	return a.seriesID != nil
}

// IsClosed reports whether the appointment can no longer be moved: it has
// started or reached a final status.
func (a *Appointment) IsClosed() bool {
	return a.status.IsTerminal() || a.status == StatusInProgress
}

// Reschedule moves the appointment, keeping a history entry of the move.
func (a *Appointment) Reschedule(newStart, newEnd time.Time) error {
	if !newEnd.After(newStart) {
		return ErrInvalidTimeRange
	}
	if a.IsClosed() {
		return ErrAppointmentClosed
	}
	a.history = append(a.history, HistoryEntry{
		At:   time.Now().UTC(),
		Kind: HistoryRescheduled,
		Changes: []FieldChange{
			{Field: "start", Old: a.start.Format(time.RFC3339), New: newStart.Format(time.RFC3339)},
			{Field: "end", Old: a.end.Format(time.RFC3339), New: newEnd.Format(time.RFC3339)},
		},
	})
	a.start = newStart
	a.end = newEnd
	a.Touch()
	return nil
}

// TransitionTo moves the appointment to another status.
func (a *Appointment) TransitionTo(next Status) error {
	if next == StatusCancelled {
		return ErrMissingCancelReason
	}
	return a.transition(next, HistoryEdited, "")
}

// Cancel cancels the appointment for the given reason.
func (a *Appointment) Cancel(reason CancelReason, detail string) error {
	if reason == "" {
		return ErrMissingCancelReason
	}
	if err := a.transition(StatusCancelled, HistoryCancelled, string(reason)); err != nil {
		return err
	}
	a.cancelReason = reason
	a.cancelDetail = detail
	return nil
}

func (a *Appointment) transition(next Status, kind HistoryKind, reason string) error {
	if !a.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.status, next)
	}
	a.history = append(a.history, HistoryEntry{
		At:      time.Now().UTC(),
		Kind:    kind,
		Reason:  reason,
		Changes: []FieldChange{{Field: "status", Old: string(a.status), New: string(next)}},
	})
	a.status = next
	a.Touch()
	return nil
}

// Clone returns an independent copy.
func (a *Appointment) Clone() *Appointment {
	return RehydrateAppointment(a.State())
}

// AppointmentState is the serialisable form of an appointment, used by the
// local cache, queued changes and remote adapters.
type AppointmentState struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	Type         AppointmentType `json:"type"`
	Status       Status          `json:"status"`
	Client       Client          `json:"client"`
	TrainerID    string          `json:"trainer_id,omitempty"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Source       Source          `json:"source"`
	SeriesID     *uuid.UUID      `json:"series_id,omitempty"`
	CancelReason CancelReason    `json:"cancel_reason,omitempty"`
	CancelDetail string          `json:"cancel_detail,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	History      []HistoryEntry  `json:"history,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// State snapshots the appointment.
func (a *Appointment) State() AppointmentState {
	var series *uuid.UUID
	if a.seriesID != nil {
		id := *a.seriesID
		series = &id
	}
	return AppointmentState{
		ID:           a.ID(),
		Title:        a.title,
		Type:         a.kind,
		Status:       a.status,
		Client:       a.client,
		TrainerID:    a.trainerID,
		Start:        a.start,
		End:          a.end,
		Source:       a.source,
		SeriesID:     series,
		CancelReason: a.cancelReason,
		CancelDetail: a.cancelDetail,
		Notes:        a.notes,
		History:      a.History(),
		CreatedAt:    a.CreatedAt(),
		UpdatedAt:    a.UpdatedAt(),
	}
}

// RehydrateAppointment recreates an appointment from persisted state.
func RehydrateAppointment(s AppointmentState) *Appointment {
	var series *uuid.UUID
	if s.SeriesID != nil {
		id := *s.SeriesID
		series = &id
	}
	return &Appointment{
		BaseEntity:   sharedDomain.RehydrateBaseEntity(s.ID, s.CreatedAt, s.UpdatedAt),
		title:        s.Title,
		kind:         s.Type,
		status:       s.Status,
		client:       s.Client,
		trainerID:    s.TrainerID,
		start:        s.Start,
		end:          s.End,
		source:       s.Source,
		seriesID:     series,
		cancelReason: s.CancelReason,
		cancelDetail: s.CancelDetail,
		notes:        s.Notes,
		history:      append([]HistoryEntry(nil), s.History...),
	}
}
