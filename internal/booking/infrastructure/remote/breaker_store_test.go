package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRemote implements the calls the tests exercise; the embedded
// interface panics on anything else.
type stubRemote struct {
	offline.RemoteStore
	err   error
	calls int
}

func (s *stubRemote) FetchWorkingHours(context.Context) (*domain.WorkingHours, error) {
	s.calls++
	return nil, s.err
}

func (s *stubRemote) PersistReschedule(_ context.Context, id uuid.UUID, newStart, newEnd time.Time) (*domain.Appointment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return domain.RehydrateAppointment(domain.AppointmentState{ID: id, Start: newStart, End: newEnd}), nil
}

func (s *stubRemote) DeleteAppointment(context.Context, uuid.UUID) error {
	s.calls++
	return s.err
}

func (s *stubRemote) Ping(context.Context) error {
	s.calls++
	return s.err
}

func newBreaker(next offline.RemoteStore, metrics observability.Metrics) *BreakerStore {
	return NewBreakerStore(next, BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, metrics, nil)
}

func TestBreakerStore_PassesResultsThrough(t *testing.T) {
	stub := &stubRemote{}
	store := newBreaker(stub, nil)

	id := uuid.New()
	start := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	a, err := store.PersistReschedule(context.Background(), id, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, a.ID())

	hours, err := store.FetchWorkingHours(context.Background())
	require.NoError(t, err)
	assert.Nil(t, hours)
	assert.Equal(t, "closed", store.State())
}

func TestBreakerStore_WrapsFailures(t *testing.T) {
	cause := errors.New("connection refused")
	store := newBreaker(&stubRemote{err: cause}, nil)

	err := store.DeleteAppointment(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, offline.IsRemoteFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, offline.ErrCircuitOpen)

	var remoteErr *offline.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "delete appointment", remoteErr.Op)
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubRemote{err: errors.New("timeout")}
	metrics := observability.NewInMemoryMetrics()
	store := newBreaker(stub, metrics)
	ctx := context.Background()

	for range 2 {
		_, err := store.FetchWorkingHours(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, "open", store.State())
	assert.Equal(t, 1.0, metrics.GaugeValue(observability.MetricBreakerOpen))

	_, err := store.FetchWorkingHours(ctx)
	assert.ErrorIs(t, err, offline.ErrCircuitOpen)
	assert.True(t, offline.IsRemoteFailure(err))
	assert.Equal(t, 2, stub.calls, "open circuit must not reach the store")
}

func TestBreakerStore_BusinessErrorsDoNotTrip(t *testing.T) {
	stub := &stubRemote{err: domain.ErrAppointmentNotFound}
	store := newBreaker(stub, nil)

	for range 3 {
		_, err := store.PersistReschedule(context.Background(), uuid.New(), time.Now(), time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)
		assert.False(t, offline.IsRemoteFailure(err))
	}
	assert.Equal(t, "closed", store.State())
}

func TestBreakerStore_PingBypassesOpenCircuit(t *testing.T) {
	stub := &stubRemote{err: errors.New("down")}
	store := newBreaker(stub, nil)
	ctx := context.Background()

	for range 2 {
		_, _ = store.FetchWorkingHours(ctx)
	}
	require.Equal(t, "open", store.State())

	stub.err = nil
	assert.NoError(t, store.Ping(ctx))
	assert.Equal(t, 3, stub.calls)
}
