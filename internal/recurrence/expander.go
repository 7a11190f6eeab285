package recurrence

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// DefaultMaxInstances caps an expansion when the pattern itself does not.
const DefaultMaxInstances = 365

// maxPeriods bounds how many days, weeks or months Seq scans, so a pattern
// that can never produce a date (day 30 every 12 months from February)
// still terminates.
const maxPeriods = 20000

// Expander turns patterns into dates. The zero value uses DefaultMaxInstances.
type Expander struct {
	MaxInstances int
}

// Expansion is the outcome of Expand.
type Expansion struct {
	Dates []civil.Date `json:"dates"`
	// Capped is set when the hard cap stopped generation before the pattern did.
	Capped  bool   `json:"capped"`
	Warning string `json:"warning,omitempty"`
}

func (e Expander) limit() int {
	if e.MaxInstances <= 0 {
		return DefaultMaxInstances
	}
	return e.MaxInstances
}

// Seq yields the pattern's dates from start in strictly increasing order,
// ignoring end date, count and cap. It holds no state between calls, so the
// same sequence can be ranged over any number of times.
func (e Expander) Seq(start civil.Date, p Pattern) iter.Seq[civil.Date] {
	return func(yield func(civil.Date) bool) {
		step := p.interval()
		switch p.Frequency {
		case Daily:
			for k := 0; k < maxPeriods; k++ {
				if !yield(start.AddDays(k * step)) {
					return
				}
			}
		case Weekly, Biweekly:
			weeks := step
			if p.Frequency == Biweekly {
				weeks = 2 * step
			}
			offsets := weekOffsets(start, p.DaysOfWeek)
			monday := start.AddDays(-mondayOffset(timeofday.WeekdayOf(start)))
			for k := 0; k < maxPeriods; k++ {
				base := monday.AddDays(k * weeks * 7)
				for _, off := range offsets {
					d := base.AddDays(off)
					if d.Before(start) {
						continue
					}
					if !yield(d) {
						return
					}
				}
			}
		case Monthly:
			day := p.DayOfMonth
			if day == 0 {
				day = start.Day
			}
			for k := 0; k < maxPeriods; k++ {
				d, ok := timeofday.MonthDay(start, k*step, day)
				if !ok || d.Before(start) {
					continue
				}
				if !yield(d) {
					return
				}
			}
		}
	}
}

// Expand validates p and collects its dates, stopping at the end date, the
// occurrence count or the hard cap, whichever comes first. Hitting the cap is
// reported on the result rather than as an error.
func (e Expander) Expand(start civil.Date, p Pattern) (Expansion, error) {
	if err := p.Validate(start); err != nil {
		return Expansion{}, err
	}
	limit := e.limit()
	want := p.OccurrenceCount

	out := Expansion{Dates: []civil.Date{}}
	var last civil.Date
	for d := range e.Seq(start, p) {
		if p.EndDate != nil && d.After(*p.EndDate) {
			break
		}
		if len(out.Dates) > 0 && !d.After(last) {
			continue
		}
		if want > 0 && len(out.Dates) == want {
			break
		}
		if len(out.Dates) == limit {
			out.Capped = true
			out.Warning = fmt.Sprintf("recurrence stopped at the limit of %d instances", limit)
			break
		}
		out.Dates = append(out.Dates, d)
		last = d
	}
	return out, nil
}

// Single returns the one-instance expansion used when a request has no pattern.
func Single(date civil.Date) Expansion {
	return Expansion{Dates: []civil.Date{date}}
}

// mondayOffset maps Monday..Sunday to 0..6.
func mondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func weekOffsets(start civil.Date, days []timeofday.Weekday) []int {
	if len(days) == 0 {
		return []int{mondayOffset(timeofday.WeekdayOf(start))}
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, wd := range days {
		off := mondayOffset(wd.Std())
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}
