package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) Save(ctx context.Context, updated *domain.Appointment, intent offline.Intent) (offline.WriteResult, error) {
	args := m.Called(ctx, updated, intent)
	return args.Get(0).(offline.WriteResult), args.Error(1)
}

func setup(t *testing.T) (*application.Agenda, *domain.Appointment, *sharedApplication.MutationGate) {
	t.Helper()
	start := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	a, err := domain.NewAppointment(domain.NewAppointmentParams{
		Client: domain.Client{Name: "Ana"},
		Start:  start,
		End:    start.Add(time.Hour),
	})
	require.NoError(t, err)
	agenda := application.NewAgenda()
	agenda.Load(offline.View{Snapshot: offline.Snapshot{Appointments: []*domain.Appointment{a}}})
	return agenda, a, sharedApplication.NewMutationGate()
}

func TestCancelAppointmentHandler_Handle(t *testing.T) {
	t.Run("cancels and patches the agenda", func(t *testing.T) {
		agenda, a, gate := setup(t)
		saver := new(mockSaver)
		var saved *domain.Appointment
		saver.On("Save", mock.Anything, mock.AnythingOfType("*domain.Appointment"), offline.IntentCancel).
			Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.Appointment) }).
			Return(offline.WriteResult{Queued: true}, nil).Once()
		handler := NewCancelAppointmentHandler(agenda, &capturingSaver{saver, &saved}, gate, nil)

		result, err := handler.Handle(context.Background(), CancelAppointmentCommand{
			AppointmentID: a.ID(),
			Reason:        domain.CancelByClient,
			Detail:        "travelling",
		})

		require.NoError(t, err)
		assert.True(t, result.Queued)
		got, _ := agenda.Get(a.ID())
		assert.Equal(t, domain.StatusCancelled, got.Status())
		assert.Equal(t, "travelling", got.CancelDetail())
		assert.False(t, gate.InFlight(a.ID()))
		saver.AssertExpectations(t)
	})

	t.Run("requires a reason", func(t *testing.T) {
		agenda, a, gate := setup(t)
		saver := new(mockSaver)
		handler := NewCancelAppointmentHandler(agenda, saver, gate, nil)

		_, err := handler.Handle(context.Background(), CancelAppointmentCommand{AppointmentID: a.ID()})

		assert.ErrorIs(t, err, domain.ErrMissingCancelReason)
		saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		agenda, _, gate := setup(t)
		handler := NewCancelAppointmentHandler(agenda, new(mockSaver), gate, nil)

		_, err := handler.Handle(context.Background(), CancelAppointmentCommand{AppointmentID: uuid.New(), Reason: domain.CancelOther})

		assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)
	})

	t.Run("blocked while a reschedule is in flight", func(t *testing.T) {
		agenda, a, gate := setup(t)
		release, err := gate.TryAcquire(a.ID())
		require.NoError(t, err)
		defer release()
		handler := NewCancelAppointmentHandler(agenda, new(mockSaver), gate, nil)

		_, err = handler.Handle(context.Background(), CancelAppointmentCommand{AppointmentID: a.ID(), Reason: domain.CancelOther})

		assert.ErrorIs(t, err, application.ErrTransactionInFlight)
	})

	t.Run("remote failure leaves the agenda untouched", func(t *testing.T) {
		agenda, a, gate := setup(t)
		saver := new(mockSaver)
		saver.On("Save", mock.Anything, mock.Anything, offline.IntentCancel).
			Return(offline.WriteResult{}, offline.NewRemoteError("cancel", errors.New("timeout")))
		handler := NewCancelAppointmentHandler(agenda, saver, gate, nil)

		_, err := handler.Handle(context.Background(), CancelAppointmentCommand{AppointmentID: a.ID(), Reason: domain.CancelByTrainer})

		assert.True(t, offline.IsRemoteFailure(err))
		got, _ := agenda.Get(a.ID())
		assert.Equal(t, domain.StatusPending, got.Status())
	})
}

func TestChangeStatusHandler_Handle(t *testing.T) {
	agenda, a, gate := setup(t)
	saver := new(mockSaver)
	var saved *domain.Appointment
	saver.On("Save", mock.Anything, mock.Anything, offline.IntentStatus).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.Appointment) }).
		Return(offline.WriteResult{}, nil)
	handler := NewChangeStatusHandler(agenda, &capturingSaver{saver, &saved}, gate, nil)

	_, err := handler.Handle(context.Background(), ChangeStatusCommand{AppointmentID: a.ID(), Status: domain.StatusConfirmed})
	require.NoError(t, err)
	got, _ := agenda.Get(a.ID())
	assert.Equal(t, domain.StatusConfirmed, got.Status())

	_, err = handler.Handle(context.Background(), ChangeStatusCommand{AppointmentID: a.ID(), Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// capturingSaver fills in the saved appointment as the write result, the
// way the sync service echoes what it persisted.
type capturingSaver struct {
	inner *mockSaver
	saved **domain.Appointment
}

func (c *capturingSaver) Save(ctx context.Context, updated *domain.Appointment, intent offline.Intent) (offline.WriteResult, error) {
	res, err := c.inner.Save(ctx, updated, intent)
	if err == nil && res.Appointment == nil {
		res.Appointment = *c.saved
	}
	return res, err
}
