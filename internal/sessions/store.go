package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

var (
	// ErrNotFound is returned when no session matches the id.
	ErrNotFound = errors.New("sessions: not found")
	// ErrSlotTaken is returned when the unique booking index rejects an insert.
	ErrSlotTaken = errors.New("sessions: slot already booked")
	// ErrNotMovable is returned when a terminal session is updated.
	ErrNotMovable = errors.New("sessions: session is not active")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists booked sessions in therapy_sessions.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore creates a session store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("sessions: db required")
	}
	return &Store{db: db, now: time.Now}
}

const sessionColumns = `id, therapist_id, patient_id, service_id, session_date, start_minute, duration_minutes, status, notes, series_id, original_date, original_start_minute, reschedule_reason, created_at, updated_at`

// Insert stores a new session. ID, status and timestamps are filled when empty.
func (s *Store) Insert(ctx context.Context, sess *BookedSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = StatusScheduled
	}
	now := s.now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO therapy_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sess.ID, sess.TherapistID, sess.PatientID, sess.ServiceID,
		sess.Date.In(time.UTC), int(sess.StartTime), sess.DurationMinutes, string(sess.Status),
		sess.Notes, nullString(sess.SeriesID), nullDate(sess.OriginalDate), nullMinute(sess.OriginalStartTime),
		sess.RescheduleReason, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s %s %s", ErrSlotTaken, sess.TherapistID, sess.Date, sess.StartTime)
		}
		return fmt.Errorf("sessions: insert: %w", err)
	}
	return nil
}

// Get loads one session.
func (s *Store) Get(ctx context.Context, id string) (*BookedSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM therapy_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	return sess, nil
}

// ListForTherapist returns the therapist's sessions dated within [from, to],
// ordered by date then start.
func (s *Store) ListForTherapist(ctx context.Context, therapistID string, from, to civil.Date) ([]BookedSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM therapy_sessions
		WHERE therapist_id = $1 AND session_date BETWEEN $2 AND $3
		ORDER BY session_date ASC, start_minute ASC`,
		therapistID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("sessions: list for therapist: %w", err)
	}
	defer rows.Close()

	var out []BookedSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// UpdateSchedule writes a rescheduled date/time and its history fields.
func (s *Store) UpdateSchedule(ctx context.Context, sess *BookedSession) error {
	sess.UpdatedAt = s.now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE therapy_sessions
		SET session_date = $1, start_minute = $2, duration_minutes = $3,
			original_date = $4, original_start_minute = $5, reschedule_reason = $6, updated_at = $7
		WHERE id = $8 AND status IN ('scheduled', 'in_progress')`,
		sess.Date.In(time.UTC), int(sess.StartTime), sess.DurationMinutes,
		nullDate(sess.OriginalDate), nullMinute(sess.OriginalStartTime), sess.RescheduleReason,
		sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s %s %s", ErrSlotTaken, sess.TherapistID, sess.Date, sess.StartTime)
		}
		return fmt.Errorf("sessions: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotMovable, sess.ID)
	}
	return nil
}

// UpdateStatus moves an active session to a new status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("sessions: update status: unknown status %q", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE therapy_sessions SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ('scheduled', 'in_progress')`,
		string(status), s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sessions: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotMovable, id)
	}
	return nil
}

func scanSession(row pgx.Row) (*BookedSession, error) {
	var (
		sess          BookedSession
		date          time.Time
		startMinute   int
		status        string
		seriesID      *string
		originalDate  *time.Time
		originalStart *int
	)
	if err := row.Scan(
		&sess.ID, &sess.TherapistID, &sess.PatientID, &sess.ServiceID,
		&date, &startMinute, &sess.DurationMinutes, &status,
		&sess.Notes, &seriesID, &originalDate, &originalStart,
		&sess.RescheduleReason, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sess.Date = civil.DateOf(date)
	sess.StartTime = timeofday.TimeOfDay(startMinute)
	sess.Status = Status(status)
	if seriesID != nil {
		sess.SeriesID = *seriesID
	}
	if originalDate != nil {
		d := civil.DateOf(*originalDate)
		sess.OriginalDate = &d
	}
	if originalStart != nil {
		t := timeofday.TimeOfDay(*originalStart)
		sess.OriginalStartTime = &t
	}
	return &sess, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDate(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func nullMinute(t *timeofday.TimeOfDay) *int {
	if t == nil {
		return nil
	}
	m := int(*t)
	return &m
}
