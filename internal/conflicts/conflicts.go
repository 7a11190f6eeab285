// Package conflicts classifies a candidate session against a therapist's day:
// working hours, break window, other booked sessions and the daily cap.
package conflicts

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Kind identifies the class of a conflict.
type Kind string

const (
	KindOutsideWorkingHours Kind = "outside_working_hours"
	KindBreakTimeOverlap    Kind = "break_time_overlap"
	KindSessionOverlap      Kind = "session_overlap"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindRuleViolation       Kind = "rule_violation"
)

// Conflict is a detected incompatibility. It is a result value, not an error.
type Conflict struct {
	Kind       Kind     `json:"kind"`
	SessionIDs []string `json:"session_ids,omitempty"`
	RuleID     string   `json:"rule_id,omitempty"`
	Reason     string   `json:"reason"`
}

func (c Conflict) String() string {
	return string(c.Kind) + ": " + c.Reason
}

// RuleViolation wraps a blocking rule outcome as a Conflict.
func RuleViolation(ruleID, reason string, sessionIDs ...string) Conflict {
	return Conflict{Kind: KindRuleViolation, RuleID: ruleID, Reason: reason, SessionIDs: ids(sessionIDs...)}
}

// Reasons returns the human-readable reason of every conflict, in order.
func Reasons(cs []Conflict) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Reason)
	}
	return out
}

// Candidate is a session placement being checked. SessionID is empty for a
// new booking and set when an existing session is moved.
type Candidate struct {
	SessionID       string
	Date            civil.Date
	Start           timeofday.TimeOfDay
	DurationMinutes int
}

// Interval returns the candidate's [start, end) span.
func (c Candidate) Interval() timeofday.Interval {
	return timeofday.Span(c.Start, c.DurationMinutes)
}

// FromSession builds the candidate describing an existing session.
func FromSession(s sessions.BookedSession) Candidate {
	return Candidate{SessionID: s.ID, Date: s.Date, Start: s.StartTime, DurationMinutes: s.DurationMinutes}
}

// Detect returns every conflict for c in fixed order: working hours, break,
// session overlap, capacity. others may hold sessions of any date or status;
// only blocking sessions on c.Date other than c itself are considered.
func Detect(c Candidate, day availability.DaySchedule, others []sessions.BookedSession) []Conflict {
	var out []Conflict
	span := c.Interval()

	if hc, ok := outsideHours(c.SessionID, span, day); ok {
		out = append(out, hc)
	}
	if bc, ok := breakOverlap(c.SessionID, span, day); ok {
		out = append(out, bc)
	}

	existing := sessions.BlockingOn(others, c.Date, c.SessionID)
	for _, o := range existing {
		if span.Overlaps(o.Interval()) {
			out = append(out, Conflict{
				Kind:       KindSessionOverlap,
				SessionIDs: ids(c.SessionID, o.ID),
				Reason:     fmt.Sprintf("%s overlaps session %s at %s", span, o.ID, o.Interval()),
			})
		}
	}

	if day.MaxSessionsPerDay > 0 && len(existing)+1 > day.MaxSessionsPerDay {
		out = append(out, Conflict{
			Kind:       KindCapacityExceeded,
			SessionIDs: ids(c.SessionID),
			Reason: fmt.Sprintf("daily limit of %d sessions reached on %s (%d already booked)",
				day.MaxSessionsPerDay, c.Date, len(existing)),
		})
	}
	return out
}

// DetectDay validates a whole day of booked sessions against the schedule and
// each other. Hours and break conflicts come first (by start time), then every
// overlapping pair, then capacity overflow naming the sessions past the cap.
func DetectDay(day availability.DaySchedule, booked []sessions.BookedSession) []Conflict {
	active := make([]sessions.BookedSession, 0, len(booked))
	for _, s := range booked {
		if s.Blocking() {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].StartTime != active[j].StartTime {
			return active[i].StartTime < active[j].StartTime
		}
		return active[i].ID < active[j].ID
	})

	var out []Conflict
	for _, s := range active {
		if hc, ok := outsideHours(s.ID, s.Interval(), day); ok {
			out = append(out, hc)
		}
		if bc, ok := breakOverlap(s.ID, s.Interval(), day); ok {
			out = append(out, bc)
		}
	}

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.Interval().Overlaps(b.Interval()) {
				out = append(out, Conflict{
					Kind:       KindSessionOverlap,
					SessionIDs: ids(a.ID, b.ID),
					Reason:     fmt.Sprintf("session %s at %s overlaps session %s at %s", a.ID, a.Interval(), b.ID, b.Interval()),
				})
			}
		}
	}

	if day.MaxSessionsPerDay > 0 && len(active) > day.MaxSessionsPerDay {
		over := make([]string, 0, len(active)-day.MaxSessionsPerDay)
		for _, s := range active[day.MaxSessionsPerDay:] {
			over = append(over, s.ID)
		}
		out = append(out, Conflict{
			Kind:       KindCapacityExceeded,
			SessionIDs: over,
			Reason: fmt.Sprintf("%d sessions booked, daily limit is %d (over: %s)",
				len(active), day.MaxSessionsPerDay, strings.Join(over, ", ")),
		})
	}
	return out
}

func outsideHours(id string, span timeofday.Interval, day availability.DaySchedule) (Conflict, bool) {
	if !day.IsWorkingDay {
		return Conflict{
			Kind:       KindOutsideWorkingHours,
			SessionIDs: ids(id),
			Reason:     fmt.Sprintf("therapist does not work on %s", day.DayOfWeek),
		}, true
	}
	if span.Start < day.WorkStart || span.End > day.WorkEnd {
		return Conflict{
			Kind:       KindOutsideWorkingHours,
			SessionIDs: ids(id),
			Reason: fmt.Sprintf("%s is outside working hours. Try scheduling between %s and %s",
				span, day.WorkStart, day.WorkEnd),
		}, true
	}
	return Conflict{}, false
}

func breakOverlap(id string, span timeofday.Interval, day availability.DaySchedule) (Conflict, bool) {
	br, ok := day.Break()
	if !ok || !span.Overlaps(br) {
		return Conflict{}, false
	}
	return Conflict{
		Kind:       KindBreakTimeOverlap,
		SessionIDs: ids(id),
		Reason:     fmt.Sprintf("%s overlaps the break %s", span, br),
	}, true
}

func ids(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
