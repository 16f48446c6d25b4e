package remote

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("AGENDA_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("AGENDA_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A single connection keeps the search_path for the whole test.
	db, err := database.OpenPostgres(ctx, url, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)

	schema := "agenda_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	_, err = db.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "SET search_path TO "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		_ = db.Close()
	})

	store := NewPostgresStore(db, "t-1", nil)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresIntegration_UpsertFetchReschedule(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

	mine, err := domain.NewAppointment(domain.NewAppointmentParams{
		Client: domain.Client{ID: "c-1", Name: "Ana"}, TrainerID: "t-1",
		Start: start, End: start.Add(time.Hour),
	})
	require.NoError(t, err)
	other, err := domain.NewAppointment(domain.NewAppointmentParams{
		Client: domain.Client{ID: "c-2", Name: "Bea"}, TrainerID: "t-2",
		Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour),
	})
	require.NoError(t, err)

	for _, a := range []*domain.Appointment{mine, other, mine} {
		_, err := store.UpsertAppointment(ctx, a)
		require.NoError(t, err, "upserting twice must not duplicate")
	}

	day := start.Truncate(24 * time.Hour)
	trainer, err := store.FetchAppointments(ctx, day, day.AddDate(0, 0, 1), offline.RoleTrainer)
	require.NoError(t, err)
	require.Len(t, trainer, 1)
	assert.Equal(t, mine.ID(), trainer[0].ID())

	studio, err := store.FetchAppointments(ctx, day, day.AddDate(0, 0, 1), offline.RoleStudio)
	require.NoError(t, err)
	assert.Len(t, studio, 2)

	moved, err := store.PersistReschedule(ctx, mine.ID(), start.Add(4*time.Hour), start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.True(t, start.Add(4*time.Hour).Equal(moved.Start()))

	// Replaying the same move changes nothing.
	again, err := store.PersistReschedule(ctx, mine.ID(), start.Add(4*time.Hour), start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, again.History(), len(moved.History()))

	_, err = store.PersistReschedule(ctx, uuid.New(), start, start.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)

	require.NoError(t, store.DeleteAppointment(ctx, other.ID()))
	require.NoError(t, store.DeleteAppointment(ctx, other.ID()))
	studio, err = store.FetchAppointments(ctx, day, day.AddDate(0, 0, 1), offline.RoleStudio)
	require.NoError(t, err)
	assert.Len(t, studio, 1)

	hours, err := store.FetchWorkingHours(ctx)
	require.NoError(t, err)
	assert.Nil(t, hours)
	rest, err := store.FetchRestConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, rest)
}
