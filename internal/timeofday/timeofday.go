// Package timeofday provides minute-resolution time arithmetic shared by every
// scheduling component: parsing "HH:MM" values, formatting, and half-open
// interval overlap.
package timeofday

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MinutesPerDay bounds every valid TimeOfDay.
const MinutesPerDay = 24 * 60

var (
	// ErrInvalidTimeFormat is returned when text is not a valid 24-hour HH:MM value.
	ErrInvalidTimeFormat = errors.New("timeofday: invalid time format, expected HH:MM")
	// ErrOutOfRange is returned when a minute offset falls outside [0, 1440).
	ErrOutOfRange = errors.New("timeofday: minutes out of range")
)

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// TimeOfDay is a minute offset from midnight.
type TimeOfDay int

// Parse converts "HH:MM" into a TimeOfDay. It is the only way display strings
// enter the scheduling engine.
func Parse(text string) (TimeOfDay, error) {
	m := hhmm.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, text)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return TimeOfDay(h*60 + mm), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(text string) TimeOfDay {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Format renders a minute offset as zero-padded HH:MM.
func Format(minutes int) (string, error) {
	if minutes < 0 || minutes >= MinutesPerDay {
		return "", fmt.Errorf("%w: %d", ErrOutOfRange, minutes)
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60), nil
}

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < MinutesPerDay
}

// Minutes returns the raw minute offset.
func (t TimeOfDay) Minutes() int { return int(t) }

// Add shifts t by the given number of minutes. The result may leave the day;
// callers check Valid or compare against a schedule bound.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

// String renders HH:MM. Values past midnight (a session end of 24:00) are
// rendered with hours >= 24 rather than wrapping.
func (t TimeOfDay) String() string {
	if s, err := Format(int(t)); err == nil {
		return s
	}
	if t < 0 {
		return fmt.Sprintf("-%02d:%02d", int(-t)/60, int(-t)%60)
	}
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalJSON encodes as "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM" through Parse.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTimeFormat, string(data))
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Empty intervals never overlap anything.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	if aStart >= aEnd || bStart >= bEnd {
		return false
	}
	return aStart < bEnd && aEnd > bStart
}

// Interval is a half-open [Start, End) span within a day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Span builds the interval starting at start and lasting the given minutes.
func Span(start TimeOfDay, minutes int) Interval {
	return Interval{Start: start, End: start.Add(minutes)}
}

// Duration returns the interval length in minutes.
func (i Interval) Duration() int { return int(i.End - i.Start) }

// Overlaps reports whether i and o intersect.
func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i.Start, i.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return o.Start >= i.Start && o.End <= i.End
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}
