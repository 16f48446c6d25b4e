package outbox_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepository(t *testing.T) *outbox.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := outbox.NewSQLiteRepository(ctx, db)
	require.NoError(t, err)
	return repo
}

func createTestMessage(routingKey string) *outbox.Message {
	return &outbox.Message{
		EventID:     uuid.New(),
		AggregateID: uuid.New(),
		RoutingKey:  routingKey,
		Payload:     json.RawMessage(`{"reason":"client asked"}`),
		CreatedAt:   time.Now(),
	}
}

func TestSQLiteRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	first := createTestMessage("agenda.appointment.rescheduled")
	first.CorrelationID = "corr-1"
	second := createTestMessage("agenda.appointment.rescheduled")
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))
	assert.NotZero(t, first.ID)

	t.Run("saving the same event twice keeps one row", func(t *testing.T) {
		dup := *first
		dup.ID = 0
		require.NoError(t, repo.Save(ctx, &dup))

		msgs, err := repo.GetUnpublished(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("returns oldest first with all fields", func(t *testing.T) {
		msgs, err := repo.GetUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.EventID, msgs[0].EventID)
		assert.Equal(t, first.AggregateID, msgs[0].AggregateID)
		assert.Equal(t, "corr-1", msgs[0].CorrelationID)
		assert.JSONEq(t, string(first.Payload), string(msgs[0].Payload))
	})

	t.Run("failed messages wait for their retry time", func(t *testing.T) {
		require.NoError(t, repo.MarkFailed(ctx, first.ID, "broker down", time.Now().Add(time.Hour)))

		msgs, err := repo.GetUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, second.EventID, msgs[0].EventID)
	})

	t.Run("published and dead messages are not returned", func(t *testing.T) {
		require.NoError(t, repo.MarkPublished(ctx, second.ID))
		require.NoError(t, repo.MarkDead(ctx, first.ID, "gave up"))

		msgs, err := repo.GetUnpublished(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("deletes published messages past retention", func(t *testing.T) {
		n, err := repo.DeleteOld(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.DeleteOld(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
