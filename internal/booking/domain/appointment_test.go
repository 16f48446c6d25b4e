package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func newAppointment(t *testing.T, client string, start, end time.Time) *domain.Appointment {
	t.Helper()
	a, err := domain.NewAppointment(domain.NewAppointmentParams{
		Title:  "Strength",
		Client: domain.Client{ID: client, Name: client},
		Start:  start,
		End:    end,
	})
	require.NoError(t, err)
	return a
}

func TestNewAppointment(t *testing.T) {
	series := uuid.New()
	a, err := domain.NewAppointment(domain.NewAppointmentParams{
		Title:    "Mobility",
		Type:     domain.TypePhysio,
		Client:   domain.Client{ID: "c1", Name: "Ana", Email: "ana@example.com"},
		Start:    at(10, 0),
		End:      at(10, 45),
		SeriesID: &series,
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID())
	assert.Equal(t, domain.StatusPending, a.Status())
	assert.Equal(t, domain.TypePhysio, a.Type())
	assert.Equal(t, domain.SourceManual, a.Source())
	assert.Equal(t, 45*time.Minute, a.Duration())
	assert.True(t, a.IsRecurring())
	assert.True(t, a.Occupies())
	require.Len(t, a.History(), 1)
	assert.Equal(t, domain.HistoryCreated, a.History()[0].Kind)
}

func TestNewAppointment_InvalidTimeRange(t *testing.T) {
	_, err := domain.NewAppointment(domain.NewAppointmentParams{Start: at(10, 0), End: at(10, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		allowed  bool
	}{
		{domain.StatusPending, domain.StatusConfirmed, true},
		{domain.StatusConfirmed, domain.StatusPending, true},
		{domain.StatusConfirmed, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusCompleted, true},
		{domain.StatusInProgress, domain.StatusPending, false},
		{domain.StatusCompleted, domain.StatusConfirmed, false},
		{domain.StatusCancelled, domain.StatusPending, false},
		{domain.StatusNoShow, domain.StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
	assert.True(t, domain.StatusCompleted.IsTerminal())
	assert.False(t, domain.StatusPending.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := domain.ParseStatus("no-show")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoShow, s)

	_, err = domain.ParseStatus("archived")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestAppointment_Reschedule(t *testing.T) {
	a := newAppointment(t, "Ana", at(10, 0), at(10, 30))

	require.NoError(t, a.Reschedule(at(11, 0), at(11, 30)))

	assert.Equal(t, at(11, 0), a.Start())
	assert.Equal(t, at(11, 30), a.End())
	last := a.History()[len(a.History())-1]
	assert.Equal(t, domain.HistoryRescheduled, last.Kind)
	require.Len(t, last.Changes, 2)
	assert.Equal(t, "start", last.Changes[0].Field)

	assert.ErrorIs(t, a.Reschedule(at(12, 0), at(11, 0)), domain.ErrInvalidTimeRange)
}

func TestAppointment_Cancel(t *testing.T) {
	a := newAppointment(t, "Ana", at(10, 0), at(10, 30))

	assert.ErrorIs(t, a.Cancel("", ""), domain.ErrMissingCancelReason)
	require.NoError(t, a.Cancel(domain.CancelByClient, "sick"))

	assert.Equal(t, domain.StatusCancelled, a.Status())
	assert.Equal(t, domain.CancelByClient, a.CancelReason())
	assert.Equal(t, "sick", a.CancelDetail())
	assert.False(t, a.Occupies())

	t.Run("cannot reschedule once cancelled", func(t *testing.T) {
		assert.ErrorIs(t, a.Reschedule(at(11, 0), at(11, 30)), domain.ErrAppointmentClosed)
	})

	t.Run("cannot cancel twice", func(t *testing.T) {
		assert.ErrorIs(t, a.Cancel(domain.CancelByTrainer, ""), domain.ErrInvalidTransition)
	})
}

func TestAppointment_TransitionTo(t *testing.T) {
	a := newAppointment(t, "Ana", at(10, 0), at(10, 30))

	require.NoError(t, a.TransitionTo(domain.StatusConfirmed))
	require.NoError(t, a.TransitionTo(domain.StatusInProgress))
	require.NoError(t, a.TransitionTo(domain.StatusCompleted))
	assert.ErrorIs(t, a.TransitionTo(domain.StatusConfirmed), domain.ErrInvalidTransition)

	b := newAppointment(t, "Luis", at(10, 0), at(10, 30))
	assert.ErrorIs(t, b.TransitionTo(domain.StatusCancelled), domain.ErrMissingCancelReason)
}

func TestAppointment_StateRoundTrip(t *testing.T) {
	a := newAppointment(t, "Ana", at(10, 0), at(10, 30))
	require.NoError(t, a.Cancel(domain.CancelOther, "weather"))

	b := domain.RehydrateAppointment(a.State())

	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, a.Status(), b.Status())
	assert.Equal(t, a.History(), b.History())

}

func TestAppointment_CloneIsIndependent(t *testing.T) {
	a := newAppointment(t, "Ana", at(10, 0), at(10, 30))
	c := a.Clone()

	require.NoError(t, c.Reschedule(at(12, 0), at(12, 30)))

	assert.Equal(t, at(10, 0), a.Start())
	assert.Len(t, a.History(), 1)
	assert.Len(t, c.History(), 2)
}
