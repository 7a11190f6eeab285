package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no rule matches the id.
var ErrNotFound = errors.New("rules: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists rules in scheduling_rules with JSONB payloads.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore creates a rule store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("rules: db required")
	}
	return &Store{db: db, now: time.Now}
}

const ruleColumns = `id, name, description, rule_type, conditions, action, scope, priority, is_active, created_at, updated_at`

// Create inserts a rule, assigning its id and timestamps. The rule is not
// validated here; callers validate with Engine.Validate first.
func (s *Store) Create(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	cond, action, scope, err := encodeRule(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduling_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Name, r.Description, string(r.Type), cond, action, scope,
		r.Priority, r.IsActive, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rules: insert: %w", err)
	}
	return nil
}

// Get loads one rule.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM scheduling_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rules: get: %w", err)
	}
	return r, nil
}

// List returns rules ordered by priority. activeOnly drops disabled rules.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM scheduling_rules`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rules: list: %w", err)
	}
	defer rows.Close()

	out := []Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("rules: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Update replaces a rule's mutable fields.
func (s *Store) Update(ctx context.Context, r *Rule) error {
	r.UpdatedAt = s.now().UTC()
	cond, action, scope, err := encodeRule(r)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduling_rules
		SET name = $1, description = $2, rule_type = $3, conditions = $4, action = $5,
			scope = $6, priority = $7, is_active = $8, updated_at = $9
		WHERE id = $10`,
		r.Name, r.Description, string(r.Type), cond, action, scope,
		r.Priority, r.IsActive, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("rules: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduling_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rules: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeRule(r *Rule) (cond, action, scope []byte, err error) {
	if cond, err = json.Marshal(r.Conditions); err != nil {
		return nil, nil, nil, fmt.Errorf("rules: marshal conditions: %w", err)
	}
	if action, err = json.Marshal(r.Action); err != nil {
		return nil, nil, nil, fmt.Errorf("rules: marshal action: %w", err)
	}
	if scope, err = json.Marshal(r.Scope); err != nil {
		return nil, nil, nil, fmt.Errorf("rules: marshal scope: %w", err)
	}
	return cond, action, scope, nil
}

func scanRule(row pgx.Row) (*Rule, error) {
	var (
		r                   Rule
		ruleType            string
		cond, action, scope []byte
	)
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &ruleType, &cond, &action, &scope,
		&r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Type = Type(ruleType)

	var err error
	if r.Conditions, err = DecodeCondition(r.Type, cond); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(action, &r.Action); err != nil {
		return nil, fmt.Errorf("rules: decode action: %w", err)
	}
	if err := json.Unmarshal(scope, &r.Scope); err != nil {
		return nil, fmt.Errorf("rules: decode scope: %w", err)
	}
	return &r, nil
}
