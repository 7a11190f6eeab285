package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

var (
	// ErrInvalidRequest is returned for malformed scheduling input.
	ErrInvalidRequest = errors.New("scheduler: invalid request")
	// ErrNotReschedulable is returned when a terminal session is moved.
	ErrNotReschedulable = errors.New("scheduler: session cannot be rescheduled")
)

// Request asks for one session, or a recurring series, at each time slot.
type Request struct {
	TherapistID          string                `json:"therapist_id"`
	ServiceID            string                `json:"service_id,omitempty"`
	PatientID            string                `json:"patient_id,omitempty"`
	StartDate            civil.Date            `json:"start_date"`
	Recurrence           *recurrence.Pattern   `json:"recurrence,omitempty"`
	TimeSlots            []timeofday.TimeOfDay `json:"time_slots"`
	DurationMinutes      int                   `json:"duration_minutes,omitempty"`
	Notes                string                `json:"notes,omitempty"`
	AutoResolveConflicts *bool                 `json:"auto_resolve_conflicts,omitempty"`
	MaxTimeShiftMinutes  int                   `json:"max_time_shift_minutes,omitempty"`

	// Rules are evaluated alongside the stored rule set, e.g. a template's rules.
	Rules []rules.Rule `json:"-"`
}

// Validate checks the request shape. Recurrence errors keep their sentinel.
func (r Request) Validate() error {
	if strings.TrimSpace(r.TherapistID) == "" {
		return fmt.Errorf("%w: therapist_id is required", ErrInvalidRequest)
	}
	if !r.StartDate.IsValid() {
		return fmt.Errorf("%w: start_date is required", ErrInvalidRequest)
	}
	if len(r.TimeSlots) == 0 {
		return fmt.Errorf("%w: at least one time slot is required", ErrInvalidRequest)
	}
	if r.DurationMinutes < 0 || r.DurationMinutes >= timeofday.MinutesPerDay {
		return fmt.Errorf("%w: duration_minutes %d out of range", ErrInvalidRequest, r.DurationMinutes)
	}
	for _, slot := range r.TimeSlots {
		if !slot.Valid() {
			return fmt.Errorf("%w: time slot %d out of range", ErrInvalidRequest, int(slot))
		}
	}
	if r.MaxTimeShiftMinutes < 0 {
		return fmt.Errorf("%w: max_time_shift_minutes cannot be negative", ErrInvalidRequest)
	}
	if r.Recurrence != nil {
		if err := r.Recurrence.Validate(r.StartDate); err != nil {
			return fmt.Errorf("scheduler: recurrence: %w", err)
		}
	}
	return nil
}

// Instance is one (date, start) placement produced by expansion.
type Instance struct {
	Date  civil.Date          `json:"date"`
	Start timeofday.TimeOfDay `json:"start_time"`
}

// Plan is the expanded, ordered instance list of a request.
type Plan struct {
	Instances   []Instance
	Frequency   recurrence.Frequency
	Occurrences int
	Warnings    []string
}

// Dates returns the distinct instance dates in order.
func (p Plan) Dates() []civil.Date {
	var out []civil.Date
	for _, in := range p.Instances {
		if len(out) == 0 || out[len(out)-1] != in.Date {
			out = append(out, in.Date)
		}
	}
	return out
}

// Success is a committed instance.
type Success struct {
	Session        sessions.BookedSession `json:"session"`
	RequestedStart timeofday.TimeOfDay    `json:"requested_start_time"`
	AutoShifted    bool                   `json:"auto_shifted"`
	ShiftMinutes   int                    `json:"shift_minutes,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
}

// Failure is a rejected instance with every conflict that caused it.
type Failure struct {
	Date      civil.Date           `json:"date"`
	StartTime timeofday.TimeOfDay  `json:"start_time"`
	Reason    string               `json:"reason"`
	Conflicts []conflicts.Conflict `json:"conflicts"`
	Warnings  []string             `json:"warnings,omitempty"`
}

// Summary counts the outcomes of a run.
type Summary struct {
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
}

// Result reports every instance of a request. Warnings are request-level,
// such as the recurrence cap.
type Result struct {
	SeriesID   string    `json:"series_id,omitempty"`
	Successful []Success `json:"successful"`
	Failed     []Failure `json:"failed"`
	Summary    Summary   `json:"summary"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// AvailabilityQuery checks a therapist's date. Without TimeSlots every free
// slot is listed.
type AvailabilityQuery struct {
	TherapistID      string                `json:"therapist_id"`
	ServiceID        string                `json:"service_id,omitempty"`
	PatientID        string                `json:"patient_id,omitempty"`
	Date             civil.Date            `json:"date"`
	DurationMinutes  int                   `json:"duration_minutes,omitempty"`
	TimeSlots        []timeofday.TimeOfDay `json:"time_slots,omitempty"`
	ExcludeSessionID string                `json:"exclude_session_id,omitempty"`
}

// Validate checks the query shape.
func (q AvailabilityQuery) Validate() error {
	if strings.TrimSpace(q.TherapistID) == "" {
		return fmt.Errorf("%w: therapist_id is required", ErrInvalidRequest)
	}
	if !q.Date.IsValid() {
		return fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if q.DurationMinutes < 0 || q.DurationMinutes >= timeofday.MinutesPerDay {
		return fmt.Errorf("%w: duration_minutes %d out of range", ErrInvalidRequest, q.DurationMinutes)
	}
	for _, slot := range q.TimeSlots {
		if !slot.Valid() {
			return fmt.Errorf("%w: time slot %d out of range", ErrInvalidRequest, int(slot))
		}
	}
	return nil
}

// Availability answers an AvailabilityQuery.
type Availability struct {
	Available      bool                 `json:"available"`
	AvailableSlots []availability.Slot  `json:"available_slots"`
	Conflicts      []conflicts.Conflict `json:"conflicts"`
	Warnings       []string             `json:"warnings,omitempty"`
}

// RescheduleRequest moves a session. A zero DurationMinutes keeps the
// session's duration.
type RescheduleRequest struct {
	Date            civil.Date          `json:"date"`
	StartTime       timeofday.TimeOfDay `json:"start_time"`
	DurationMinutes int                 `json:"duration_minutes,omitempty"`
	Reason          string              `json:"reason"`
}

// Validate checks the reschedule input.
func (r RescheduleRequest) Validate() error {
	if !r.Date.IsValid() {
		return fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if !r.StartTime.Valid() {
		return fmt.Errorf("%w: start_time out of range", ErrInvalidRequest)
	}
	if r.DurationMinutes < 0 || r.DurationMinutes >= timeofday.MinutesPerDay {
		return fmt.Errorf("%w: duration_minutes %d out of range", ErrInvalidRequest, r.DurationMinutes)
	}
	return nil
}

// RescheduleResult carries the moved session, or the conflicts that blocked it.
type RescheduleResult struct {
	Rescheduled bool                   `json:"rescheduled"`
	Session     sessions.BookedSession `json:"session"`
	Conflicts   []conflicts.Conflict   `json:"conflicts"`
	Warnings    []string               `json:"warnings,omitempty"`
}
