package appointments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRejectsDoubleBooking(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	ada, err := store.CreateUser(ctx, User{Name: "Ada", ContactNumber: "1111111111"})
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, User{Name: "Bob", ContactNumber: "2222222222"})
	require.NoError(t, err)

	first, err := store.Create(ctx, Appointment{UserID: ada.ID, Date: "2026-01-22", Time: "14:00"})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, first.Status)

	_, err = store.Create(ctx, Appointment{UserID: bob.ID, Date: "2026-01-22", Time: "14:00"})
	require.ErrorIs(t, err, ErrSlotTaken)

	require.NoError(t, store.Cancel(ctx, first.ID))
	_, err = store.Create(ctx, Appointment{UserID: bob.ID, Date: "2026-01-22", Time: "14:00"})
	require.NoError(t, err)
}

func TestInMemoryBookedSlotsExcludes(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	a, err := store.Create(ctx, Appointment{UserID: 1, Date: "2026-01-22", Time: "15:00"})
	require.NoError(t, err)
	_, err = store.Create(ctx, Appointment{UserID: 1, Date: "2026-01-22", Time: "09:00"})
	require.NoError(t, err)

	slots, err := store.BookedSlots(ctx, "2026-01-22", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "15:00"}, slots)

	slots, err = store.BookedSlots(ctx, "2026-01-22", a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, slots)
}

func TestInMemoryRescheduleConflicts(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	a, err := store.Create(ctx, Appointment{UserID: 1, Date: "2026-01-22", Time: "10:00"})
	require.NoError(t, err)
	_, err = store.Create(ctx, Appointment{UserID: 2, Date: "2026-01-22", Time: "11:00"})
	require.NoError(t, err)

	require.ErrorIs(t, store.Reschedule(ctx, a.ID, "2026-01-22", "11:00"), ErrSlotTaken)
	require.NoError(t, store.Reschedule(ctx, a.ID, "2026-01-22", "10:00"))
	require.NoError(t, store.Reschedule(ctx, a.ID, "2026-01-23", "11:00"))
	require.ErrorIs(t, store.Reschedule(ctx, 99, "2026-01-23", "11:00"), ErrNotFound)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-23", got.Date)
}

func TestInMemoryUserAppointmentsSorted(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, slot := range [][2]string{{"2026-02-01", "09:00"}, {"2026-01-05", "16:00"}, {"2026-01-05", "10:00"}} {
		_, err := store.Create(ctx, Appointment{UserID: 3, Date: slot[0], Time: slot[1]})
		require.NoError(t, err)
	}
	got, err := store.UserAppointments(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10:00", got[0].Time)
	assert.Equal(t, "16:00", got[1].Time)
	assert.Equal(t, "2026-02-01", got[2].Date)
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	_, ok := store.(*InMemoryStore)
	assert.True(t, ok)
}
