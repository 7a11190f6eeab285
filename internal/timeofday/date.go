package timeofday

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	// ErrInvalidDate is returned for dates that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("timeofday: invalid date, expected YYYY-MM-DD")
	// ErrInvalidWeekday is returned for unknown weekday names.
	ErrInvalidWeekday = errors.New("timeofday: invalid weekday")
)

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(text string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(text))
	if err != nil || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
	}
	return d, nil
}

// MustParseDate is ParseDate for literals.
func MustParseDate(text string) civil.Date {
	d, err := ParseDate(text)
	if err != nil {
		panic(err)
	}
	return d
}

// WeekdayOf returns the day of week of a calendar date.
func WeekdayOf(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// At returns the instant at which t begins on date d in loc.
func At(d civil.Date, t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, int(t), 0, 0, loc)
}

// MonthDay returns the date for the given day of month in the month that is
// months after d's month. ok is false when that month has no such day.
func MonthDay(d civil.Date, months, day int) (civil.Date, bool) {
	first := time.Date(d.Year, d.Month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	target := time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
	if target.Month() != first.Month() {
		return civil.Date{}, false
	}
	return civil.DateOf(target), true
}

// Weekday is a time.Weekday that travels as an upper-case name ("MONDAY").
type Weekday time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter names in any case.
func ParseWeekday(text string) (Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, text)
	}
	return Weekday(wd), nil
}

// Std returns the standard library weekday.
func (w Weekday) Std() time.Weekday { return time.Weekday(w) }

func (w Weekday) String() string { return strings.ToUpper(time.Weekday(w).String()) }

// Valid reports whether w is Sunday..Saturday.
func (w Weekday) Valid() bool { return w >= 0 && w <= 6 }

// MarshalJSON encodes the upper-case weekday name.
func (w Weekday) MarshalJSON() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, int(w))
	}
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts a weekday name or its 0-6 number (0 = Sunday).
func (w *Weekday) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n > 6 {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, n)
		}
		*w = Weekday(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWeekday, string(data))
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
