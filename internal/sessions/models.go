// Package sessions holds booked therapy sessions and their Postgres store.
package sessions

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Status tracks the lifecycle of a booked session.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Blocking reports whether a session in this status occupies its time.
func (s Status) Blocking() bool {
	return s == StatusScheduled || s == StatusInProgress
}

// Terminal reports whether the session can no longer move.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// BookedSession is a committed therapy session.
type BookedSession struct {
	ID                string               `json:"id"`
	TherapistID       string               `json:"therapist_id"`
	PatientID         string               `json:"patient_id,omitempty"`
	ServiceID         string               `json:"service_id,omitempty"`
	Date              civil.Date           `json:"date"`
	StartTime         timeofday.TimeOfDay  `json:"start_time"`
	DurationMinutes   int                  `json:"duration_minutes"`
	Status            Status               `json:"status"`
	Notes             string               `json:"notes,omitempty"`
	SeriesID          string               `json:"series_id,omitempty"`
	OriginalDate      *civil.Date          `json:"original_date,omitempty"`
	OriginalStartTime *timeofday.TimeOfDay `json:"original_start_time,omitempty"`
	RescheduleReason  string               `json:"reschedule_reason,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// EndTime returns the minute the session ends.
func (s BookedSession) EndTime() timeofday.TimeOfDay {
	return s.StartTime.Add(s.DurationMinutes)
}

// Interval returns the [start, end) span of the session.
func (s BookedSession) Interval() timeofday.Interval {
	return timeofday.Span(s.StartTime, s.DurationMinutes)
}

// Blocking reports whether the session participates in conflict checks.
func (s BookedSession) Blocking() bool {
	return s.Status.Blocking()
}

// BlockingOn returns the blocking sessions on date, skipping excludeID.
// Order is preserved.
func BlockingOn(all []BookedSession, date civil.Date, excludeID string) []BookedSession {
	out := make([]BookedSession, 0, len(all))
	for _, s := range all {
		if s.Date != date || !s.Blocking() {
			continue
		}
		if excludeID != "" && s.ID == excludeID {
			continue
		}
		out = append(out, s)
	}
	return out
}
