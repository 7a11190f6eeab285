package availability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	defaults := Defaults{
		WorkingDays:     []time.Weekday{time.Monday, time.Tuesday},
		WorkStart:       tod("09:00"),
		WorkEnd:         tod("17:00"),
		SessionDuration: 60,
	}
	return NewStore(client, defaults), mr
}

func TestStoreReturnsDefaultsWhenMissing(t *testing.T) {
	store, _ := newTestStore(t)

	week, err := store.Get(context.Background(), "t-1")
	require.NoError(t, err)

	assert.Equal(t, "t-1", week.TherapistID)
	assert.Len(t, week.Days, 2)
	assert.True(t, week.ForWeekday(time.Monday).IsWorkingDay)
	assert.False(t, week.ForWeekday(time.Friday).IsWorkingDay)
}

func TestStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	fri := workday("10:00", "14:00", 50, 10)
	fri.DayOfWeek = timeofday.Weekday(time.Friday)
	fri.MaxSessionsPerDay = 3
	week := &WeeklySchedule{TherapistID: "t-2", Days: []DaySchedule{fri}}

	require.NoError(t, store.Set(ctx, week))
	assert.True(t, mr.Exists("schedule:therapist:t-2"))

	got, err := store.Get(ctx, "t-2")
	require.NoError(t, err)
	require.Len(t, got.Days, 1)
	assert.Equal(t, fri, got.Days[0])
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, store.Delete(ctx, "t-2"))
	got, err = store.Get(ctx, "t-2")
	require.NoError(t, err)
	assert.Len(t, got.Days, 2, "defaults apply after delete")
}

func TestStoreRejectsInvalidWeek(t *testing.T) {
	store, mr := newTestStore(t)

	bad := workday("12:00", "09:00", 60, 0)
	err := store.Set(context.Background(), &WeeklySchedule{TherapistID: "t-3", Days: []DaySchedule{bad}})

	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.False(t, mr.Exists("schedule:therapist:t-3"))
}
