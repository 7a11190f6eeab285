// Package recurrence expands a repeating schedule description into concrete
// calendar dates.
package recurrence

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

var (
	// ErrInvalidPattern is returned for malformed recurrence patterns.
	ErrInvalidPattern = errors.New("recurrence: invalid pattern")
	// ErrNoTermination is returned when a pattern has neither an end date nor
	// an occurrence count.
	ErrNoTermination = errors.New("recurrence: pattern needs end_date or occurrence_count")
	// ErrInvalidDateRange is returned when the end date precedes the start.
	ErrInvalidDateRange = errors.New("recurrence: end_date before start date")
)

// Frequency is the repeat unit of a pattern.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// Pattern describes how a session repeats. Interval 0 is read as 1.
type Pattern struct {
	Frequency       Frequency           `json:"frequency"`
	Interval        int                 `json:"interval,omitempty"`
	DaysOfWeek      []timeofday.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth      int                 `json:"day_of_month,omitempty"`
	EndDate         *civil.Date         `json:"end_date,omitempty"`
	OccurrenceCount int                 `json:"occurrence_count,omitempty"`
}

func (p Pattern) interval() int {
	if p.Interval <= 0 {
		return 1
	}
	return p.Interval
}

// Validate checks the pattern against the series start date.
func (p Pattern) Validate(start civil.Date) error {
	if !start.IsValid() {
		return fmt.Errorf("%w: start date %s", ErrInvalidPattern, start)
	}
	if !p.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidPattern, p.Frequency)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval cannot be negative", ErrInvalidPattern)
	}
	for _, wd := range p.DaysOfWeek {
		if !wd.Valid() {
			return fmt.Errorf("%w: day of week %d", ErrInvalidPattern, int(wd))
		}
	}
	if p.DayOfMonth < 0 || p.DayOfMonth > 31 {
		return fmt.Errorf("%w: day_of_month %d", ErrInvalidPattern, p.DayOfMonth)
	}
	if p.OccurrenceCount < 0 {
		return fmt.Errorf("%w: occurrence_count cannot be negative", ErrInvalidPattern)
	}
	if p.EndDate == nil && p.OccurrenceCount == 0 {
		return ErrNoTermination
	}
	if p.EndDate != nil {
		if !p.EndDate.IsValid() {
			return fmt.Errorf("%w: end_date %s", ErrInvalidPattern, *p.EndDate)
		}
		if p.EndDate.Before(start) {
			return fmt.Errorf("%w: %s < %s", ErrInvalidDateRange, *p.EndDate, start)
		}
	}
	return nil
}
