package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(seq func(func(domain.Slot) bool)) []domain.Slot {
	var out []domain.Slot
	seq(func(s domain.Slot) bool {
		out = append(out, s)
		return true
	})
	return out
}

func TestSlots(t *testing.T) {
	slots := collect(domain.Slots(6, 22, 30))

	require.Len(t, slots, 32)
	assert.Equal(t, domain.Slot{Hour: 6, Minute: 0}, slots[0])
	assert.Equal(t, domain.Slot{Hour: 6, Minute: 30}, slots[1])
	assert.Equal(t, domain.Slot{Hour: 21, Minute: 30}, slots[31])
}

func TestSlots_Restartable(t *testing.T) {
	seq := domain.Slots(9, 11, 15)

	first := collect(seq)
	second := collect(seq)

	assert.Len(t, first, 8)
	assert.Equal(t, first, second)
}

func TestSlots_EarlyStop(t *testing.T) {
	var seen int
	for range domain.Slots(0, 24, 60) {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestSlot_On(t *testing.T) {
	r := domain.Slot{Hour: 10, Minute: 30}.On(at(15, 45), 30)

	assert.Equal(t, at(10, 30), r.Start)
	assert.Equal(t, at(11, 0), r.End)
	assert.Equal(t, "10:30", domain.Slot{Hour: 10, Minute: 30}.String())
}

func TestGridConfig(t *testing.T) {
	g := domain.DefaultGridConfig()

	assert.Equal(t, 6, g.OpenHour)
	assert.Equal(t, 22, g.CloseHour)
	assert.Equal(t, 30, g.SlotMinutes)
	assert.True(t, g.InBounds(at(6, 0)))
	assert.True(t, g.InBounds(at(21, 59)))
	assert.False(t, g.InBounds(at(22, 0)))
	assert.False(t, g.InBounds(at(5, 30)))
	assert.Equal(t, 30*time.Minute, g.SlotRange(at(0, 0), domain.Slot{Hour: 7}).Duration())
}
