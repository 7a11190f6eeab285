// Package availability computes free session slots from a therapist's working
// schedule and stores weekly schedules.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// ErrInvalidSchedule is returned when a day or week schedule breaks its invariants.
var ErrInvalidSchedule = errors.New("availability: invalid schedule")

// DaySchedule describes one weekday of a therapist's working hours.
type DaySchedule struct {
	DayOfWeek             timeofday.Weekday    `json:"day_of_week"`
	IsWorkingDay          bool                 `json:"is_working_day"`
	WorkStart             timeofday.TimeOfDay  `json:"work_start"`
	WorkEnd               timeofday.TimeOfDay  `json:"work_end"`
	BreakStart            *timeofday.TimeOfDay `json:"break_start,omitempty"`
	BreakEnd              *timeofday.TimeOfDay `json:"break_end,omitempty"`
	SessionDuration       int                  `json:"session_duration"`
	BufferBetweenSessions int                  `json:"buffer_between_sessions"`
	// MaxSessionsPerDay of 0 means no daily cap.
	MaxSessionsPerDay int `json:"max_sessions_per_day"`
}

// Hours returns the [WorkStart, WorkEnd) interval.
func (d DaySchedule) Hours() timeofday.Interval {
	return timeofday.Interval{Start: d.WorkStart, End: d.WorkEnd}
}

// Break returns the break window when one is configured.
func (d DaySchedule) Break() (timeofday.Interval, bool) {
	if d.BreakStart == nil || d.BreakEnd == nil {
		return timeofday.Interval{}, false
	}
	return timeofday.Interval{Start: *d.BreakStart, End: *d.BreakEnd}, true
}

// Validate checks the day invariants. Non-working days only need a valid weekday.
func (d DaySchedule) Validate() error {
	if !d.DayOfWeek.Valid() {
		return fmt.Errorf("%w: day_of_week %d", ErrInvalidSchedule, int(d.DayOfWeek))
	}
	if !d.IsWorkingDay {
		return nil
	}
	if !d.WorkStart.Valid() || d.WorkEnd < 0 || d.WorkEnd > timeofday.MinutesPerDay {
		return fmt.Errorf("%w: %s working hours out of range", ErrInvalidSchedule, d.DayOfWeek)
	}
	if d.WorkStart >= d.WorkEnd {
		return fmt.Errorf("%w: %s work_start %s must be before work_end %s", ErrInvalidSchedule, d.DayOfWeek, d.WorkStart, d.WorkEnd)
	}
	if (d.BreakStart == nil) != (d.BreakEnd == nil) {
		return fmt.Errorf("%w: %s break needs both start and end", ErrInvalidSchedule, d.DayOfWeek)
	}
	if br, ok := d.Break(); ok {
		if br.Start >= br.End {
			return fmt.Errorf("%w: %s break_start %s must be before break_end %s", ErrInvalidSchedule, d.DayOfWeek, br.Start, br.End)
		}
		if !d.Hours().Contains(br) {
			return fmt.Errorf("%w: %s break %s outside working hours %s", ErrInvalidSchedule, d.DayOfWeek, br, d.Hours())
		}
	}
	if d.SessionDuration <= 0 {
		return fmt.Errorf("%w: %s session_duration must be positive", ErrInvalidSchedule, d.DayOfWeek)
	}
	if d.BufferBetweenSessions < 0 {
		return fmt.Errorf("%w: %s buffer_between_sessions cannot be negative", ErrInvalidSchedule, d.DayOfWeek)
	}
	if d.MaxSessionsPerDay < 0 {
		return fmt.Errorf("%w: %s max_sessions_per_day cannot be negative", ErrInvalidSchedule, d.DayOfWeek)
	}
	return nil
}

// WeeklySchedule is a therapist's recurring week. Weekdays without an entry
// are non-working days.
type WeeklySchedule struct {
	TherapistID string        `json:"therapist_id"`
	Days        []DaySchedule `json:"days"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// Validate checks every day and rejects duplicate weekdays.
func (w WeeklySchedule) Validate() error {
	seen := make(map[timeofday.Weekday]struct{}, len(w.Days))
	for _, d := range w.Days {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.DayOfWeek]; dup {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidSchedule, d.DayOfWeek)
		}
		seen[d.DayOfWeek] = struct{}{}
	}
	return nil
}

// ForWeekday returns the schedule for a weekday, or a non-working day.
func (w WeeklySchedule) ForWeekday(wd time.Weekday) DaySchedule {
	for _, d := range w.Days {
		if d.DayOfWeek.Std() == wd {
			return d
		}
	}
	return DaySchedule{DayOfWeek: timeofday.Weekday(wd)}
}

// ForDate returns the schedule that applies on a calendar date.
func (w WeeklySchedule) ForDate(date civil.Date) DaySchedule {
	return w.ForWeekday(timeofday.WeekdayOf(date))
}

// Defaults seed the week used for therapists without a stored schedule.
type Defaults struct {
	WorkingDays       []time.Weekday
	WorkStart         timeofday.TimeOfDay
	WorkEnd           timeofday.TimeOfDay
	BreakStart        *timeofday.TimeOfDay
	BreakEnd          *timeofday.TimeOfDay
	SessionDuration   int
	BufferMinutes     int
	MaxSessionsPerDay int
}

// Week expands the defaults into a WeeklySchedule ordered Sunday..Saturday.
func (d Defaults) Week(therapistID string) WeeklySchedule {
	days := append([]time.Weekday(nil), d.WorkingDays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	week := WeeklySchedule{TherapistID: therapistID}
	for _, wd := range days {
		week.Days = append(week.Days, DaySchedule{
			DayOfWeek:             timeofday.Weekday(wd),
			IsWorkingDay:          true,
			WorkStart:             d.WorkStart,
			WorkEnd:               d.WorkEnd,
			BreakStart:            d.BreakStart,
			BreakEnd:              d.BreakEnd,
			SessionDuration:       d.SessionDuration,
			BufferBetweenSessions: d.BufferMinutes,
			MaxSessionsPerDay:     d.MaxSessionsPerDay,
		})
	}
	return week
}
