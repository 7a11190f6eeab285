// Package templates stores reusable scheduling bundles: a service, a
// therapist, default times and duration, an optional recurrence and extra rules.
package templates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

var (
	// ErrNotFound is returned when no template matches the id.
	ErrNotFound = errors.New("templates: not found")
	// ErrInvalidTemplate is returned when a template fails validation.
	ErrInvalidTemplate = errors.New("templates: invalid template")
)

// Template is a named scheduling bundle applied like an ad-hoc request.
type Template struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	ServiceID        string                `json:"service_id,omitempty"`
	TherapistID      string                `json:"therapist_id,omitempty"`
	DefaultDuration  int                   `json:"default_duration,omitempty"`
	DefaultTimeSlots []timeofday.TimeOfDay `json:"default_time_slots"`
	Recurrence       *recurrence.Pattern   `json:"recurrence,omitempty"`
	Rules            []rules.Rule          `json:"scheduling_rules,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Validate checks the template on its own. The recurrence termination is
// checked when the template is applied to a start date.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidTemplate)
	}
	if t.DefaultDuration < 0 || t.DefaultDuration >= timeofday.MinutesPerDay {
		return fmt.Errorf("%w: default_duration %d out of range", ErrInvalidTemplate, t.DefaultDuration)
	}
	for _, slot := range t.DefaultTimeSlots {
		if !slot.Valid() {
			return fmt.Errorf("%w: time slot %d out of range", ErrInvalidTemplate, int(slot))
		}
	}
	if t.Recurrence != nil && !t.Recurrence.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidTemplate, t.Recurrence.Frequency)
	}
	for i, r := range t.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: rule %d: %v", ErrInvalidTemplate, i, err)
		}
	}
	return nil
}

// RuleSet returns the template's rules ready for evaluation: every rule is
// active and has an id derived from the template when it had none.
func (t Template) RuleSet() []rules.Rule {
	out := make([]rules.Rule, 0, len(t.Rules))
	for i, r := range t.Rules {
		if r.ID == "" {
			r.ID = fmt.Sprintf("template:%s:%d", t.ID, i)
		}
		r.IsActive = true
		out = append(out, r)
	}
	return out
}
