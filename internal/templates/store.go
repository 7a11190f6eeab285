package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Store persists templates in schedule_templates.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a template store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("templates: db required")
	}
	return &Store{db: db, now: time.Now}
}

const templateColumns = `id, name, description, service_id, therapist_id, default_duration, default_time_slots, recurrence, rules, notes, created_at, updated_at`

// Create validates and inserts t, filling its id and timestamps.
func (s *Store) Create(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	recur, ruleData, err := encodeJSON(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_templates (`+templateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		t.ID, t.Name, t.Description, t.ServiceID, t.TherapistID, t.DefaultDuration,
		pq.Array(slotMinutes(t.DefaultTimeSlots)), recur, ruleData, t.Notes, now)
	if err != nil {
		return fmt.Errorf("templates: insert: %w", err)
	}
	return nil
}

// Get returns the template with id.
func (s *Store) Get(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM schedule_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("templates: get: %w", err)
	}
	return t, nil
}

// List returns every template ordered by name.
func (s *Store) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM schedule_templates ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("templates: list: %w", err)
	}
	defer rows.Close()

	out := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("templates: scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Update replaces every mutable field of t.
func (s *Store) Update(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = s.now().UTC()
	recur, ruleData, err := encodeJSON(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_templates
		SET name = $1, description = $2, service_id = $3, therapist_id = $4, default_duration = $5,
			default_time_slots = $6, recurrence = $7, rules = $8, notes = $9, updated_at = $10
		WHERE id = $11`,
		t.Name, t.Description, t.ServiceID, t.TherapistID, t.DefaultDuration,
		pq.Array(slotMinutes(t.DefaultTimeSlots)), recur, ruleData, t.Notes, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("templates: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	return nil
}

// Delete removes the template with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("templates: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*Template, error) {
	var (
		t        Template
		minutes  []int64
		recur    []byte
		ruleData []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.ServiceID, &t.TherapistID, &t.DefaultDuration,
		pq.Array(&minutes), &recur, &ruleData, &t.Notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.DefaultTimeSlots = make([]timeofday.TimeOfDay, 0, len(minutes))
	for _, m := range minutes {
		t.DefaultTimeSlots = append(t.DefaultTimeSlots, timeofday.TimeOfDay(m))
	}
	if len(recur) > 0 && string(recur) != "null" {
		var p recurrence.Pattern
		if err := json.Unmarshal(recur, &p); err != nil {
			return nil, fmt.Errorf("decode recurrence: %w", err)
		}
		t.Recurrence = &p
	}
	if len(ruleData) > 0 {
		var rs []rules.Rule
		if err := json.Unmarshal(ruleData, &rs); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		t.Rules = rs
	}
	return &t, nil
}

func encodeJSON(t *Template) (recur []byte, ruleData []byte, err error) {
	if t.Recurrence != nil {
		if recur, err = json.Marshal(t.Recurrence); err != nil {
			return nil, nil, fmt.Errorf("templates: encode recurrence: %w", err)
		}
	}
	rs := t.Rules
	if rs == nil {
		rs = []rules.Rule{}
	}
	if ruleData, err = json.Marshal(rs); err != nil {
		return nil, nil, fmt.Errorf("templates: encode rules: %w", err)
	}
	return recur, ruleData, nil
}

func slotMinutes(slots []timeofday.TimeOfDay) []int64 {
	out := make([]int64, 0, len(slots))
	for _, s := range slots {
		out = append(out, int64(s))
	}
	return out
}
