package availability

import (
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Slot is a computed free interval. It is never persisted.
type Slot struct {
	StartTime       timeofday.TimeOfDay `json:"start_time"`
	EndTime         timeofday.TimeOfDay `json:"end_time"`
	DurationMinutes int                 `json:"duration_minutes"`
}

func (s Slot) String() string {
	return s.StartTime.String() + "-" + s.EndTime.String()
}

// CalculateSlots lists the free slots of the day's session duration.
func CalculateSlots(day DaySchedule, booked []sessions.BookedSession) []Slot {
	return Slots(day, booked, 0)
}

// Slots lists free slots of the given duration (the day's session duration
// when duration <= 0). The cursor starts at WorkStart and advances by
// duration plus buffer. A slot hitting the break jumps the cursor to the
// break end; a slot hitting a booked session is dropped.
// Terminal sessions in booked are ignored.
func Slots(day DaySchedule, booked []sessions.BookedSession, duration int) []Slot {
	slots := []Slot{}
	if !day.IsWorkingDay {
		return slots
	}
	if duration <= 0 {
		duration = day.SessionDuration
	}
	if duration <= 0 {
		return slots
	}
	step := duration + day.BufferBetweenSessions
	if step < duration {
		step = duration
	}

	busy := make([]timeofday.Interval, 0, len(booked))
	for _, s := range booked {
		if s.Blocking() {
			busy = append(busy, s.Interval())
		}
	}
	br, hasBreak := day.Break()

	cursor := day.WorkStart
	for {
		candidate := timeofday.Span(cursor, duration)
		if candidate.End > day.WorkEnd {
			break
		}
		if hasBreak && candidate.Overlaps(br) {
			cursor = br.End
			continue
		}
		if !overlapsAny(candidate, busy) {
			slots = append(slots, Slot{
				StartTime:       candidate.Start,
				EndTime:         candidate.End,
				DurationMinutes: duration,
			})
		}
		cursor = cursor.Add(step)
	}
	return slots
}

func overlapsAny(candidate timeofday.Interval, busy []timeofday.Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
