// Package rules holds configurable scheduling rules and the engine that
// evaluates them against a candidate session.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// ErrInvalidRule is returned when a rule's conditions, action or scope are
// inconsistent.
var ErrInvalidRule = errors.New("rules: invalid rule")

// Type selects the condition payload of a rule.
type Type string

const (
	TypeTimeConstraint   Type = "time_constraint"
	TypeCapacityLimit    Type = "capacity_limit"
	TypeAdvanceBooking   Type = "advance_booking"
	TypeRecurringPattern Type = "recurring_pattern"
	TypeCustom           Type = "custom"
)

// ActionType is what happens when a rule's condition matches.
type ActionType string

const (
	ActionAllow          ActionType = "allow"
	ActionDeny           ActionType = "deny"
	ActionWarn           ActionType = "warn"
	ActionAutoReschedule ActionType = "auto_reschedule"
)

// Action is taken when the rule matches. MaxTimeShift bounds an
// auto_reschedule in minutes.
type Action struct {
	Type         ActionType `json:"type"`
	Message      string     `json:"message,omitempty"`
	MaxTimeShift int        `json:"max_time_shift,omitempty"`
}

func (a Action) validate() error {
	switch a.Type {
	case ActionAllow, ActionDeny, ActionWarn:
	case ActionAutoReschedule:
		if a.MaxTimeShift <= 0 {
			return fmt.Errorf("%w: auto_reschedule needs max_time_shift > 0", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, a.Type)
	}
	if a.MaxTimeShift < 0 || a.MaxTimeShift >= timeofday.MinutesPerDay {
		return fmt.Errorf("%w: max_time_shift %d out of range", ErrInvalidRule, a.MaxTimeShift)
	}
	return nil
}

// Scope limits which sessions a rule applies to. Every non-empty id list must
// contain the candidate's id.
type Scope struct {
	ApplyToAll   bool     `json:"apply_to_all"`
	TherapistIDs []string `json:"therapist_ids,omitempty"`
	ServiceIDs   []string `json:"service_ids,omitempty"`
	PatientIDs   []string `json:"patient_ids,omitempty"`
}

func (s Scope) validate() error {
	if !s.ApplyToAll && len(s.TherapistIDs) == 0 && len(s.ServiceIDs) == 0 && len(s.PatientIDs) == 0 {
		return fmt.Errorf("%w: scope needs apply_to_all or at least one id", ErrInvalidRule)
	}
	return nil
}

// Condition is the typed predicate data of a rule. The set of implementations
// is closed: TimeConstraint, CapacityLimit, AdvanceBooking, RecurringPattern
// and Custom.
type Condition interface {
	ruleType() Type
	validate() error
}

// TimeConstraint matches sessions that are not fully inside the window or
// fall on a weekday outside DaysOfWeek. Nil bounds and empty days are open.
type TimeConstraint struct {
	WindowStart *timeofday.TimeOfDay `json:"window_start,omitempty"`
	WindowEnd   *timeofday.TimeOfDay `json:"window_end,omitempty"`
	DaysOfWeek  []timeofday.Weekday  `json:"days_of_week,omitempty"`
}

func (TimeConstraint) ruleType() Type { return TypeTimeConstraint }

func (c TimeConstraint) validate() error {
	if c.WindowStart == nil && c.WindowEnd == nil && len(c.DaysOfWeek) == 0 {
		return fmt.Errorf("%w: time_constraint needs a window or days_of_week", ErrInvalidRule)
	}
	if c.WindowStart != nil && c.WindowEnd != nil && *c.WindowStart >= *c.WindowEnd {
		return fmt.Errorf("%w: window_start %s must be before window_end %s", ErrInvalidRule, *c.WindowStart, *c.WindowEnd)
	}
	for _, wd := range c.DaysOfWeek {
		if !wd.Valid() {
			return fmt.Errorf("%w: day of week %d", ErrInvalidRule, int(wd))
		}
	}
	return nil
}

// Period is the window a capacity limit counts over.
type Period string

const (
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// CapacityLimit matches once the therapist's load for the period would
// exceed MaxSessions.
type CapacityLimit struct {
	Period      Period `json:"period"`
	MaxSessions int    `json:"max_sessions"`
}

func (CapacityLimit) ruleType() Type { return TypeCapacityLimit }

func (c CapacityLimit) validate() error {
	if c.Period != PeriodDay && c.Period != PeriodWeek {
		return fmt.Errorf("%w: capacity period %q", ErrInvalidRule, c.Period)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("%w: max_sessions must be positive", ErrInvalidRule)
	}
	return nil
}

// AdvanceBooking matches sessions booked with less than MinLeadMinutes notice
// or more than MaxLeadDays ahead. Zero disables a bound.
type AdvanceBooking struct {
	MinLeadMinutes int `json:"min_lead_minutes,omitempty"`
	MaxLeadDays    int `json:"max_lead_days,omitempty"`
}

func (AdvanceBooking) ruleType() Type { return TypeAdvanceBooking }

func (c AdvanceBooking) validate() error {
	if c.MinLeadMinutes < 0 || c.MaxLeadDays < 0 {
		return fmt.Errorf("%w: lead times cannot be negative", ErrInvalidRule)
	}
	if c.MinLeadMinutes == 0 && c.MaxLeadDays == 0 {
		return fmt.Errorf("%w: advance_booking needs min_lead_minutes or max_lead_days", ErrInvalidRule)
	}
	if c.MaxLeadDays > 0 && c.MinLeadMinutes > c.MaxLeadDays*timeofday.MinutesPerDay {
		return fmt.Errorf("%w: min lead exceeds max lead", ErrInvalidRule)
	}
	return nil
}

// RecurringPattern constrains recurring requests. Single sessions never match.
type RecurringPattern struct {
	MaxOccurrences     int                    `json:"max_occurrences,omitempty"`
	AllowedFrequencies []recurrence.Frequency `json:"allowed_frequencies,omitempty"`
}

func (RecurringPattern) ruleType() Type { return TypeRecurringPattern }

func (c RecurringPattern) validate() error {
	if c.MaxOccurrences < 0 {
		return fmt.Errorf("%w: max_occurrences cannot be negative", ErrInvalidRule)
	}
	if c.MaxOccurrences == 0 && len(c.AllowedFrequencies) == 0 {
		return fmt.Errorf("%w: recurring_pattern needs max_occurrences or allowed_frequencies", ErrInvalidRule)
	}
	for _, f := range c.AllowedFrequencies {
		if !f.Valid() {
			return fmt.Errorf("%w: frequency %q", ErrInvalidRule, f)
		}
	}
	return nil
}

// Custom names a predicate registered on the Engine.
type Custom struct {
	Predicate string          `json:"predicate"`
	Params    json.RawMessage `json:"params,omitempty"`
}

func (Custom) ruleType() Type { return TypeCustom }

func (c Custom) validate() error {
	if c.Predicate == "" {
		return fmt.Errorf("%w: custom rule needs a predicate", ErrInvalidRule)
	}
	return nil
}

// Rule is a configurable scheduling rule. Lower Priority evaluates first.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	Conditions  Condition `json:"conditions"`
	Action      Action    `json:"action"`
	Scope       Scope     `json:"scope"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the rule is internally consistent. Custom predicates are
// checked against a registry by Engine.Validate.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidRule)
	}
	if r.Conditions == nil {
		return fmt.Errorf("%w: conditions required", ErrInvalidRule)
	}
	if r.Conditions.ruleType() != r.Type {
		return fmt.Errorf("%w: %s conditions on a %s rule", ErrInvalidRule, r.Conditions.ruleType(), r.Type)
	}
	if err := r.Conditions.validate(); err != nil {
		return err
	}
	if err := r.Action.validate(); err != nil {
		return err
	}
	return r.Scope.validate()
}

type ruleJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        Type            `json:"type"`
	Conditions  json.RawMessage `json:"conditions"`
	Action      Action          `json:"action"`
	Scope       Scope           `json:"scope"`
	Priority    int             `json:"priority"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MarshalJSON writes conditions as a plain object next to type.
func (r Rule) MarshalJSON() ([]byte, error) {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Conditions:  cond,
		Action:      r.Action,
		Scope:       r.Scope,
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	})
}

// UnmarshalJSON decodes conditions into the payload selected by type.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := DecodeCondition(raw.Type, raw.Conditions)
	if err != nil {
		return err
	}
	*r = Rule{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Type:        raw.Type,
		Conditions:  cond,
		Action:      raw.Action,
		Scope:       raw.Scope,
		Priority:    raw.Priority,
		IsActive:    raw.IsActive,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
	}
	return nil
}

// DecodeCondition decodes a condition payload for the given rule type.
// Empty data yields a nil condition, which Validate rejects.
func DecodeCondition(t Type, data json.RawMessage) (Condition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var (
		cond Condition
		err  error
	)
	switch t {
	case TypeTimeConstraint:
		var c TimeConstraint
		err = json.Unmarshal(data, &c)
		cond = c
	case TypeCapacityLimit:
		var c CapacityLimit
		err = json.Unmarshal(data, &c)
		cond = c
	case TypeAdvanceBooking:
		var c AdvanceBooking
		err = json.Unmarshal(data, &c)
		cond = c
	case TypeRecurringPattern:
		var c RecurringPattern
		err = json.Unmarshal(data, &c)
		cond = c
	case TypeCustom:
		var c Custom
		err = json.Unmarshal(data, &c)
		cond = c
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s conditions: %v", ErrInvalidRule, t, err)
	}
	return cond, nil
}

func containsID(ids []string, id string) bool {
	return slices.Contains(ids, id)
}
