package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 6, cfg.GridOpenHour)
	assert.Equal(t, 22, cfg.GridCloseHour)
	assert.Equal(t, 30, cfg.SlotMinutes)
	assert.Equal(t, LocalStoreSQLite, cfg.LocalStore)
	assert.Equal(t, 15*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 5*time.Second, cfg.NoticeDismissAfter)
	assert.Equal(t, uint32(3), cfg.BreakerFailureThreshold)
	assert.Equal(t, "trainer", cfg.Role)
	assert.Empty(t, cfg.CacheKey)
	assert.Equal(t, 10, cfg.ReplayMaxAttempts)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("AGENDA_APP_ENV", "production")
	t.Setenv("AGENDA_SLOT_MINUTES", "15")
	t.Setenv("AGENDA_GRID_OPEN_HOUR", "7")
	t.Setenv("AGENDA_LOCAL_STORE", "Redis")
	t.Setenv("AGENDA_COMMIT_TIMEOUT", "3s")
	t.Setenv("AGENDA_ROLE", "Studio")
	t.Setenv("AGENDA_TRAINER_ID", "trainer-7")
	t.Setenv("AGENDA_CACHE_KEY", "c2VjcmV0")
	t.Setenv("AGENDA_REPLAY_MAX_ATTEMPTS", "4")
	t.Setenv("DATABASE_URL", "postgres://remote/agenda")
	t.Setenv("RABBITMQ_URL", "amqp://broker/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 15, cfg.SlotMinutes)
	assert.Equal(t, 7, cfg.GridOpenHour)
	assert.Equal(t, LocalStoreRedis, cfg.LocalStore)
	assert.Equal(t, 3*time.Second, cfg.CommitTimeout)
	assert.Equal(t, "postgres://remote/agenda", cfg.DatabaseURL)
	assert.Equal(t, "amqp://broker/", cfg.RabbitMQURL)
	assert.Equal(t, "studio", cfg.Role)
	assert.Equal(t, "trainer-7", cfg.TrainerID)
	assert.Equal(t, "c2VjcmV0", cfg.CacheKey)
	assert.Equal(t, 4, cfg.ReplayMaxAttempts)
}

func TestLoad_RejectsInvalidGrid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"slot does not divide hour", "AGENDA_SLOT_MINUTES", "25"},
		{"open after close", "AGENDA_GRID_OPEN_HOUR", "23"},
		{"unknown store", "AGENDA_LOCAL_STORE", "indexeddb"},
		{"unknown role", "AGENDA_ROLE", "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
