package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Load is the therapist's existing blocking session count around the
// candidate, supplied by the caller.
type Load struct {
	Day  int `json:"day"`
	Week int `json:"week"`
}

// Candidate is the session placement being evaluated.
type Candidate struct {
	TherapistID     string
	ServiceID       string
	PatientID       string
	Date            civil.Date
	Start           timeofday.TimeOfDay
	DurationMinutes int
	// Frequency and Occurrences describe the request's recurrence; both are
	// zero for a single session.
	Frequency   recurrence.Frequency
	Occurrences int
	Load        Load
}

// Finding records a rule whose condition matched.
type Finding struct {
	RuleID   string     `json:"rule_id"`
	RuleName string     `json:"rule_name"`
	RuleType Type       `json:"rule_type"`
	Action   ActionType `json:"action,omitempty"`
	Priority int        `json:"priority"`
	Message  string     `json:"message"`
}

// Skip records a rule that applied but was not evaluated.
type Skip struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// Suggestion asks the caller to try shifting the session by at most
// MaxTimeShift minutes.
type Suggestion struct {
	MaxTimeShift int      `json:"max_time_shift"`
	RuleIDs      []string `json:"rule_ids"`
}

// Evaluation is the outcome of Engine.Evaluate.
type Evaluation struct {
	Valid      bool        `json:"valid"`
	Violations []Finding   `json:"violations"`
	Warnings   []Finding   `json:"warnings"`
	Skipped    []Skip      `json:"skipped"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
}

// Matcher reports whether a compiled custom predicate matches a candidate.
type Matcher func(c Candidate) (matched bool, reason string)

// Predicate compiles the params of a custom rule into a Matcher.
type Predicate func(params []byte) (Matcher, error)

// Engine evaluates rules. It is safe for concurrent use.
type Engine struct {
	now func() time.Time
	loc *time.Location

	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewEngine creates an engine with the built-in custom predicates. A nil now
// uses time.Now and a nil loc uses UTC.
func NewEngine(now func() time.Time, loc *time.Location) *Engine {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{now: now, loc: loc, predicates: make(map[string]Predicate)}
	for name, p := range builtinPredicates() {
		e.predicates[name] = p
	}
	return e
}

// Register adds or replaces a named custom predicate.
func (e *Engine) Register(name string, p Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicates[name] = p
}

func (e *Engine) predicate(name string) (Predicate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.predicates[name]
	return p, ok
}

// Validate checks r and, for custom rules, that the predicate is registered
// and accepts the params.
func (e *Engine) Validate(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if c, ok := r.Conditions.(Custom); ok {
		if _, err := e.compile(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) compile(c Custom) (Matcher, error) {
	p, ok := e.predicate(c.Predicate)
	if !ok {
		return nil, fmt.Errorf("%w: unknown predicate %q", ErrInvalidRule, c.Predicate)
	}
	m, err := p(c.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: predicate %q: %v", ErrInvalidRule, c.Predicate, err)
	}
	return m, nil
}

// Evaluate runs the rules that apply to c in ascending priority order.
// A matching deny stops evaluation and the rest are recorded as skipped.
// A matching allow overrides later deny and auto_reschedule rules of the same
// type. Malformed rules are skipped with a warning.
func (e *Engine) Evaluate(c Candidate, rules []Rule) Evaluation {
	ev := Evaluation{Violations: []Finding{}, Warnings: []Finding{}, Skipped: []Skip{}}

	applicable := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		applies, missing := scopeApplies(r.Scope, c)
		if missing != "" {
			ev.skip(r, "scope references "+missing+" but the session has none")
			continue
		}
		if applies {
			applicable = append(applicable, r)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		return applicable[i].Priority < applicable[j].Priority
	})

	allowedBy := make(map[Type]string)
	for i, r := range applicable {
		if err := r.Validate(); err != nil {
			ev.skip(r, err.Error())
			continue
		}
		matched, reason, err := e.match(r, c)
		if err != nil {
			ev.skip(r, err.Error())
			continue
		}
		if !matched {
			continue
		}

		f := finding(r, reason)
		switch r.Action.Type {
		case ActionAllow:
			if _, ok := allowedBy[r.Type]; !ok {
				allowedBy[r.Type] = r.ID
			}
		case ActionWarn:
			ev.Warnings = append(ev.Warnings, f)
		case ActionAutoReschedule:
			if id, ok := allowedBy[r.Type]; ok {
				ev.Skipped = append(ev.Skipped, Skip{RuleID: r.ID, RuleName: r.Name, Reason: "overridden by allow rule " + id})
				continue
			}
			ev.Violations = append(ev.Violations, f)
			ev.suggest(r)
		case ActionDeny:
			if id, ok := allowedBy[r.Type]; ok {
				ev.Skipped = append(ev.Skipped, Skip{RuleID: r.ID, RuleName: r.Name, Reason: "overridden by allow rule " + id})
				continue
			}
			ev.Violations = append(ev.Violations, f)
			for _, rest := range applicable[i+1:] {
				ev.Skipped = append(ev.Skipped, Skip{RuleID: rest.ID, RuleName: rest.Name, Reason: "not evaluated: denied by rule " + r.ID})
			}
			ev.Valid = false
			return ev
		}
	}
	ev.Valid = len(ev.Violations) == 0
	return ev
}

func (ev *Evaluation) skip(r Rule, reason string) {
	ev.Skipped = append(ev.Skipped, Skip{RuleID: r.ID, RuleName: r.Name, Reason: reason})
	ev.Warnings = append(ev.Warnings, Finding{
		RuleID:   r.ID,
		RuleName: r.Name,
		RuleType: r.Type,
		Priority: r.Priority,
		Message:  "rule skipped: " + reason,
	})
}

// suggest keeps the tightest shift bound across auto_reschedule rules.
func (ev *Evaluation) suggest(r Rule) {
	if ev.Suggestion == nil {
		ev.Suggestion = &Suggestion{MaxTimeShift: r.Action.MaxTimeShift}
	} else if r.Action.MaxTimeShift < ev.Suggestion.MaxTimeShift {
		ev.Suggestion.MaxTimeShift = r.Action.MaxTimeShift
	}
	ev.Suggestion.RuleIDs = append(ev.Suggestion.RuleIDs, r.ID)
}

func finding(r Rule, reason string) Finding {
	msg := r.Action.Message
	if msg == "" {
		msg = reason
	}
	return Finding{
		RuleID:   r.ID,
		RuleName: r.Name,
		RuleType: r.Type,
		Action:   r.Action.Type,
		Priority: r.Priority,
		Message:  msg,
	}
}

// scopeApplies reports whether the scope covers c. missing names a scoped
// dimension the candidate has no value for.
func scopeApplies(s Scope, c Candidate) (applies bool, missing string) {
	if s.ApplyToAll {
		return true, ""
	}
	dims := []struct {
		name  string
		ids   []string
		value string
	}{
		{"therapist", s.TherapistIDs, c.TherapistID},
		{"service", s.ServiceIDs, c.ServiceID},
		{"patient", s.PatientIDs, c.PatientID},
	}
	scoped := false
	for _, d := range dims {
		if len(d.ids) == 0 {
			continue
		}
		scoped = true
		if d.value == "" {
			return false, d.name
		}
		if !containsID(d.ids, d.value) {
			return false, ""
		}
	}
	return scoped, ""
}

func (e *Engine) match(r Rule, c Candidate) (bool, string, error) {
	span := timeofday.Span(c.Start, c.DurationMinutes)
	switch cond := r.Conditions.(type) {
	case TimeConstraint:
		if len(cond.DaysOfWeek) > 0 {
			wd := timeofday.WeekdayOf(c.Date)
			allowed := false
			for _, d := range cond.DaysOfWeek {
				if d.Std() == wd {
					allowed = true
					break
				}
			}
			if !allowed {
				return true, fmt.Sprintf("sessions are not allowed on %s", timeofday.Weekday(wd)), nil
			}
		}
		if cond.WindowStart != nil && span.Start < *cond.WindowStart {
			return true, fmt.Sprintf("%s starts before %s", span, *cond.WindowStart), nil
		}
		if cond.WindowEnd != nil && span.End > *cond.WindowEnd {
			return true, fmt.Sprintf("%s ends after %s", span, *cond.WindowEnd), nil
		}
		return false, "", nil

	case AdvanceBooking:
		lead := timeofday.At(c.Date, c.Start, e.loc).Sub(e.now())
		if cond.MinLeadMinutes > 0 && lead < time.Duration(cond.MinLeadMinutes)*time.Minute {
			return true, fmt.Sprintf("sessions must be booked at least %d minutes in advance", cond.MinLeadMinutes), nil
		}
		if cond.MaxLeadDays > 0 && lead > time.Duration(cond.MaxLeadDays)*24*time.Hour {
			return true, fmt.Sprintf("sessions cannot be booked more than %d days in advance", cond.MaxLeadDays), nil
		}
		return false, "", nil

	case CapacityLimit:
		load := c.Load.Day
		if cond.Period == PeriodWeek {
			load = c.Load.Week
		}
		if load+1 > cond.MaxSessions {
			return true, fmt.Sprintf("%s limit of %d sessions reached (%d booked)", cond.Period, cond.MaxSessions, load), nil
		}
		return false, "", nil

	case RecurringPattern:
		if c.Frequency == "" {
			return false, "", nil
		}
		if len(cond.AllowedFrequencies) > 0 {
			allowed := false
			for _, f := range cond.AllowedFrequencies {
				if f == c.Frequency {
					allowed = true
					break
				}
			}
			if !allowed {
				return true, fmt.Sprintf("%s recurrence is not allowed", c.Frequency), nil
			}
		}
		if cond.MaxOccurrences > 0 && c.Occurrences > cond.MaxOccurrences {
			return true, fmt.Sprintf("series of %d sessions exceeds the limit of %d", c.Occurrences, cond.MaxOccurrences), nil
		}
		return false, "", nil

	case Custom:
		m, err := e.compile(cond)
		if err != nil {
			return false, "", err
		}
		matched, reason := m(c)
		return matched, reason, nil
	}
	return false, "", fmt.Errorf("%w: unsupported conditions %T", ErrInvalidRule, r.Conditions)
}
