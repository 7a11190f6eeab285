package scheduler

import (
	"time"

	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
)

// Config holds the engine defaults. Zero fields fall back to DefaultConfig.
type Config struct {
	// DefaultSessionMinutes is used when neither the request nor the
	// therapist's day names a duration.
	DefaultSessionMinutes int
	// MaxRecurrenceInstances is the hard cap on expanded instances.
	MaxRecurrenceInstances int
	// AutoResolveConflicts enables the shift search unless a request overrides it.
	AutoResolveConflicts bool
	// MaxTimeShiftMinutes bounds the shift search when no rule or request does.
	MaxTimeShiftMinutes int
	// ShiftStepMinutes is the shift search granularity on days without a slot grid.
	ShiftStepMinutes int
	// Location interprets session dates and times for lead-time rules.
	Location *time.Location
	Now      func() time.Time
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultSessionMinutes:  60,
		MaxRecurrenceInstances: recurrence.DefaultMaxInstances,
		AutoResolveConflicts:   false,
		MaxTimeShiftMinutes:    60,
		ShiftStepMinutes:       15,
		Location:               time.UTC,
		Now:                    time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultSessionMinutes <= 0 {
		c.DefaultSessionMinutes = d.DefaultSessionMinutes
	}
	if c.MaxRecurrenceInstances <= 0 {
		c.MaxRecurrenceInstances = d.MaxRecurrenceInstances
	}
	if c.MaxTimeShiftMinutes <= 0 {
		c.MaxTimeShiftMinutes = d.MaxTimeShiftMinutes
	}
	if c.ShiftStepMinutes <= 0 {
		c.ShiftStepMinutes = d.ShiftStepMinutes
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}
