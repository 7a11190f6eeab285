package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewStore(mock)
	store.now = func() time.Time { return testNow }
	return store, mock
}

func sessionRow(id string, date time.Time, start int, status string) []any {
	return []any{
		id, "t-1", "p-1", "svc-1", date, start, 60, status, "", (*string)(nil),
		(*time.Time)(nil), (*int)(nil), "", testNow, testNow,
	}
}

var columns = []string{
	"id", "therapist_id", "patient_id", "service_id", "session_date", "start_minute", "duration_minutes",
	"status", "notes", "series_id", "original_date", "original_start_minute", "reschedule_reason",
	"created_at", "updated_at",
}

func TestInsertFillsDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO therapy_sessions").
		WithArgs(pgxmock.AnyArg(), "t-1", "p-1", "svc-1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			600, 60, "scheduled", "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "", testNow, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sess := &BookedSession{
		TherapistID:     "t-1",
		PatientID:       "p-1",
		ServiceID:       "svc-1",
		Date:            civil.Date{Year: 2024, Month: time.January, Day: 2},
		StartTime:       timeofday.MustParse("10:00"),
		DurationMinutes: 60,
	}
	require.NoError(t, store.Insert(context.Background(), sess))

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusScheduled, sess.Status)
	assert.Equal(t, testNow, sess.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO therapy_sessions").
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("UPDATE therapy_sessions").
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Insert(context.Background(), &BookedSession{TherapistID: "t-1", DurationMinutes: 60})
	assert.ErrorIs(t, err, ErrSlotTaken)
	err = store.UpdateSchedule(context.Background(), &BookedSession{ID: "s-1", TherapistID: "t-1"})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs matches n query arguments of any value.
func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListForTherapist(t *testing.T) {
	store, mock := newMockStore(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(columns).
		AddRow(sessionRow("s-1", day, 540, "scheduled")...).
		AddRow(sessionRow("s-2", day, 660, "cancelled")...)
	mock.ExpectQuery("FROM therapy_sessions").
		WithArgs("t-1", day, day.AddDate(0, 0, 6)).
		WillReturnRows(rows)

	from := civil.DateOf(day)
	got, err := store.ListForTherapist(context.Background(), "t-1", from, from.AddDays(6))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "s-1", got[0].ID)
	assert.Equal(t, from, got[0].Date)
	assert.Equal(t, timeofday.MustParse("09:00"), got[0].StartTime)
	assert.True(t, got[0].Blocking())
	assert.Equal(t, StatusCancelled, got[1].Status)
	assert.False(t, got[1].Blocking())
	assert.Nil(t, got[0].OriginalDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleRejectsTerminal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE therapy_sessions").
		WithArgs(append(anyArgs(7), "s-9")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSchedule(context.Background(), &BookedSession{ID: "s-9"})
	assert.ErrorIs(t, err, ErrNotMovable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE therapy_sessions SET status").
		WithArgs("cancelled", testNow, "s-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "s-1", StatusCancelled))
	assert.Error(t, store.UpdateStatus(context.Background(), "s-1", Status("archived")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockingOn(t *testing.T) {
	d := civil.Date{Year: 2024, Month: time.January, Day: 1}
	all := []BookedSession{
		{ID: "a", Date: d, Status: StatusScheduled},
		{ID: "b", Date: d, Status: StatusCompleted},
		{ID: "c", Date: d.AddDays(1), Status: StatusScheduled},
		{ID: "d", Date: d, Status: StatusInProgress},
	}

	got := BlockingOn(all, d, "d")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
