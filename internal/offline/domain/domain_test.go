package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteError(t *testing.T) {
	cause := errors.New("connection refused")
	err := domain.NewRemoteError("fetch appointments", cause)

	assert.True(t, domain.IsRemoteFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "remote fetch appointments: connection refused", err.Error())

	wrapped := fmt.Errorf("load: %w", err)
	assert.True(t, domain.IsRemoteFailure(wrapped))
	assert.Same(t, err, domain.NewRemoteError("other", err))

	assert.NoError(t, domain.NewRemoteError("noop", nil))
	assert.False(t, domain.IsRemoteFailure(cause))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, domain.IsRefusal(booking.ErrAppointmentNotFound))
	assert.True(t, domain.IsRefusal(fmt.Errorf("replay: %w", booking.ErrAppointmentClosed)))
	assert.False(t, domain.IsRefusal(domain.NewRemoteError("fetch", errors.New("timeout"))))
	assert.False(t, domain.IsRefusal(domain.ErrCircuitOpen))
}

func TestNewPendingChange(t *testing.T) {
	start := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	a, err := booking.NewAppointment(booking.NewAppointmentParams{
		Client: booking.Client{Name: "Ana"},
		Start:  start,
		End:    start.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	change, err := domain.NewPendingChange(domain.ChangeUpdate, domain.IntentReschedule, a)
	require.NoError(t, err)
	change = change.WithPrevious(start.Add(-time.Hour), start.Add(-30*time.Minute))

	assert.Equal(t, a.ID(), change.AppointmentID)
	assert.Equal(t, start.Add(-time.Hour), change.PreviousStart)
	assert.Equal(t, a.ID(), change.Appointment().ID())
	assert.Equal(t, "Ana", change.Appointment().Client().Name)

	_, err = domain.NewPendingChange("merge", domain.IntentEdit, a)
	assert.ErrorIs(t, err, domain.ErrInvalidChangeKind)
}

func TestHoursState(t *testing.T) {
	none, err := domain.HoursFromState(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Nil(t, domain.HoursToState(nil))

	wh, err := booking.NewWorkingHours(map[time.Weekday][]booking.ClockRange{
		time.Monday: {booking.NewClockRange(8, 0, 12, 0)},
	})
	require.NoError(t, err)

	restored, err := domain.HoursFromState(domain.HoursToState(wh))
	require.NoError(t, err)
	assert.Equal(t, wh.Ranges(time.Monday), restored.Ranges(time.Monday))
}

func TestView_ApplyPending(t *testing.T) {
	day := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	newAppt := func(name string, hour int) *booking.Appointment {
		a, err := booking.NewAppointment(booking.NewAppointmentParams{
			Client: booking.Client{Name: name},
			Start:  day.Add(time.Duration(hour) * time.Hour),
			End:    day.Add(time.Duration(hour)*time.Hour + 30*time.Minute),
		})
		require.NoError(t, err)
		return a
	}
	change := func(kind domain.ChangeKind, intent domain.Intent, a *booking.Appointment) domain.PendingChange {
		c, err := domain.NewPendingChange(kind, intent, a)
		require.NoError(t, err)
		return c
	}

	ana, ben, cai := newAppt("Ana", 9), newAppt("Ben", 11), newAppt("Cai", 13)
	view := func() domain.View {
		return domain.View{Snapshot: domain.Snapshot{
			Range:        booking.TimeRange{Start: day, End: day.AddDate(0, 0, 1)},
			Appointments: []*booking.Appointment{ana, ben, cai},
		}}
	}

	t.Run("no changes leaves the view alone", func(t *testing.T) {
		v := view()
		v.ApplyPending(nil)
		assert.Len(t, v.Appointments, 3)
		assert.Empty(t, v.Unsynced)
	})

	t.Run("reschedule and cancel are shown as intended", func(t *testing.T) {
		moved := ana.Clone()
		require.NoError(t, moved.Reschedule(day.Add(15*time.Hour), day.Add(15*time.Hour+30*time.Minute)))
		cancelled := ben.Clone()
		require.NoError(t, cancelled.Cancel(booking.CancelByClient, ""))

		v := view()
		v.ApplyPending([]domain.PendingChange{
			change(domain.ChangeUpdate, domain.IntentReschedule, moved),
			change(domain.ChangeUpdate, domain.IntentCancel, cancelled),
		})

		require.Len(t, v.Appointments, 3)
		assert.Equal(t, ben.ID(), v.Appointments[0].ID())
		assert.Equal(t, booking.StatusCancelled, v.Appointments[0].Status())
		assert.Equal(t, cai.ID(), v.Appointments[1].ID())
		assert.Equal(t, ana.ID(), v.Appointments[2].ID())
		assert.True(t, v.Appointments[2].Start().Equal(day.Add(15*time.Hour)))
		assert.True(t, v.IsUnsynced(ana.ID()))
		assert.True(t, v.IsUnsynced(ben.ID()))
		assert.False(t, v.IsUnsynced(cai.ID()))
	})

	t.Run("later change for the same appointment wins", func(t *testing.T) {
		first := cai.Clone()
		require.NoError(t, first.Reschedule(day.Add(14*time.Hour), day.Add(14*time.Hour+30*time.Minute)))
		second := cai.Clone()
		require.NoError(t, second.Reschedule(day.Add(16*time.Hour), day.Add(16*time.Hour+30*time.Minute)))

		v := view()
		v.ApplyPending([]domain.PendingChange{
			change(domain.ChangeUpdate, domain.IntentReschedule, first),
			change(domain.ChangeUpdate, domain.IntentReschedule, second),
		})

		require.Len(t, v.Appointments, 3)
		last := v.Appointments[2]
		assert.Equal(t, cai.ID(), last.ID())
		assert.True(t, last.Start().Equal(day.Add(16*time.Hour)))
		assert.Len(t, v.Unsynced, 1)
	})

	t.Run("created, deleted and moved away", func(t *testing.T) {
		created := newAppt("Dee", 17)
		away := ben.Clone()
		require.NoError(t, away.Reschedule(day.Add(35*time.Hour), day.Add(35*time.Hour+30*time.Minute)))

		v := view()
		v.ApplyPending([]domain.PendingChange{
			change(domain.ChangeCreate, domain.IntentCreate, created),
			change(domain.ChangeDelete, domain.IntentEdit, ana),
			change(domain.ChangeUpdate, domain.IntentReschedule, away),
		})

		require.Len(t, v.Appointments, 2)
		assert.Equal(t, cai.ID(), v.Appointments[0].ID())
		assert.Equal(t, created.ID(), v.Appointments[1].ID())
		assert.Equal(t, []uuid.UUID{created.ID()}, v.Unsynced, "only appointments left in the view are unsynced")
		assert.False(t, v.IsUnsynced(ana.ID()))
		assert.False(t, v.IsUnsynced(ben.ID()))
	})

	t.Run("change outside the range is not counted", func(t *testing.T) {
		nextWeek := newAppt("Eve", 9)
		require.NoError(t, nextWeek.Reschedule(day.AddDate(0, 0, 7), day.AddDate(0, 0, 7).Add(30*time.Minute)))

		v := view()
		v.ApplyPending([]domain.PendingChange{change(domain.ChangeCreate, domain.IntentCreate, nextWeek)})

		assert.Len(t, v.Appointments, 3)
		assert.Empty(t, v.Unsynced)
	})
}
