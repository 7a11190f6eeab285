package events

import (
	"time"

	"cloud.google.com/go/civil"
)

// Scheduling event types.
const (
	TypeSessionScheduled     = "scheduling.session.scheduled.v1"
	TypeSessionRescheduled   = "scheduling.session.rescheduled.v1"
	TypeSessionStatusChanged = "scheduling.session.status_changed.v1"
	TypeBatchCompleted       = "scheduling.batch.completed.v1"
)

// SessionScheduledV1 is emitted for every committed session.
type SessionScheduledV1 struct {
	SessionID       string     `json:"session_id"`
	TherapistID     string     `json:"therapist_id"`
	PatientID       string     `json:"patient_id,omitempty"`
	ServiceID       string     `json:"service_id,omitempty"`
	SeriesID        string     `json:"series_id,omitempty"`
	Date            civil.Date `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	AutoShifted     bool       `json:"auto_shifted,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
}

func (SessionScheduledV1) EventType() string { return TypeSessionScheduled }

// SessionRescheduledV1 is emitted when a session moves.
type SessionRescheduledV1 struct {
	SessionID     string     `json:"session_id"`
	TherapistID   string     `json:"therapist_id"`
	PreviousDate  civil.Date `json:"previous_date"`
	PreviousStart string     `json:"previous_start_time"`
	Date          civil.Date `json:"date"`
	StartTime     string     `json:"start_time"`
	Reason        string     `json:"reason,omitempty"`
	RescheduledAt time.Time  `json:"rescheduled_at"`
}

func (SessionRescheduledV1) EventType() string { return TypeSessionRescheduled }

// SessionStatusChangedV1 is emitted on lifecycle transitions.
type SessionStatusChangedV1 struct {
	SessionID   string    `json:"session_id"`
	TherapistID string    `json:"therapist_id"`
	Status      string    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
}

func (SessionStatusChangedV1) EventType() string { return TypeSessionStatusChanged }

// BatchCompletedV1 summarises a bulk scheduling run.
type BatchCompletedV1 struct {
	TherapistID  string    `json:"therapist_id"`
	SeriesID     string    `json:"series_id,omitempty"`
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CompletedAt  time.Time `json:"completed_at"`
}

func (BatchCompletedV1) EventType() string { return TypeBatchCompleted }
