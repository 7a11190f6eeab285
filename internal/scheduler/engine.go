// Package scheduler orchestrates scheduling requests: it expands recurrences,
// checks every instance against the therapist's day and the rule set, shifts
// conflicting instances when allowed, commits the clean ones and reports a
// per-instance result. Engine is pure; Service wires it to storage.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/templates"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
)

// Snapshot is the state a run is validated against. Sessions must cover
// every Monday..Sunday week touched by the run so weekly load is exact.
type Snapshot struct {
	Week     availability.WeeklySchedule
	Sessions []sessions.BookedSession
	Rules    []rules.Rule
}

// CommitFunc persists one clean instance. An error rejects only that instance.
type CommitFunc func(ctx context.Context, s *sessions.BookedSession) error

// Engine expands and validates scheduling requests. It performs no I/O and
// holds no mutable state.
type Engine struct {
	cfg      Config
	rules    *rules.Engine
	expander recurrence.Expander
}

// NewEngine creates an engine. A nil rule engine is built from cfg.
func NewEngine(cfg Config, ruleEngine *rules.Engine) *Engine {
	cfg = cfg.withDefaults()
	if ruleEngine == nil {
		ruleEngine = rules.NewEngine(cfg.Now, cfg.Location)
	}
	return &Engine{
		cfg:      cfg,
		rules:    ruleEngine,
		expander: recurrence.Expander{MaxInstances: cfg.MaxRecurrenceInstances},
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Plan validates req and expands it into instances ordered by date, then
// start time. Duplicate time slots collapse into one.
func (e *Engine) Plan(req Request) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}
	exp := recurrence.Single(req.StartDate)
	var plan Plan
	if req.Recurrence != nil {
		var err error
		exp, err = e.expander.Expand(req.StartDate, *req.Recurrence)
		if err != nil {
			return Plan{}, fmt.Errorf("scheduler: recurrence: %w", err)
		}
		plan.Frequency = req.Recurrence.Frequency
		if exp.Capped {
			plan.Warnings = append(plan.Warnings, exp.Warning)
		}
	}

	slots := uniqueSorted(req.TimeSlots)
	plan.Instances = make([]Instance, 0, len(exp.Dates)*len(slots))
	for _, d := range exp.Dates {
		for _, s := range slots {
			plan.Instances = append(plan.Instances, Instance{Date: d, Start: s})
		}
	}
	if req.Recurrence != nil {
		plan.Occurrences = len(plan.Instances)
	}
	return plan, nil
}

// Run validates and commits every instance of plan in order. Sessions
// committed earlier in the run are visible to later instances. The run never
// stops early: every instance ends up in Successful or Failed.
func (e *Engine) Run(ctx context.Context, req Request, plan Plan, snap Snapshot, commit CommitFunc) Result {
	res := Result{
		Successful: []Success{},
		Failed:     []Failure{},
		Warnings:   append([]string(nil), plan.Warnings...),
	}
	if len(plan.Instances) > 1 {
		res.SeriesID = uuid.NewString()
	}

	working := append([]sessions.BookedSession(nil), snap.Sessions...)
	ruleSet := append(append([]rules.Rule(nil), snap.Rules...), req.Rules...)
	who := rules.Candidate{
		TherapistID: req.TherapistID,
		ServiceID:   req.ServiceID,
		PatientID:   req.PatientID,
		Frequency:   plan.Frequency,
		Occurrences: plan.Occurrences,
	}
	autoResolve := e.cfg.AutoResolveConflicts
	if req.AutoResolveConflicts != nil {
		autoResolve = *req.AutoResolveConflicts
	}

	for _, in := range plan.Instances {
		day := snap.Week.ForDate(in.Date)
		c := conflicts.Candidate{Date: in.Date, Start: in.Start, DurationMinutes: e.duration(req.DurationMinutes, day)}
		v := e.check(c, who, snap.Week, working, ruleSet)

		placed, shift := c, 0
		if !v.clean() {
			if !autoResolve || v.denied || v.suggestion == nil {
				res.Failed = append(res.Failed, failure(c, v))
				continue
			}
			alt, av, off, ok := e.resolve(c, who, snap.Week, working, ruleSet, e.shiftBound(req.MaxTimeShiftMinutes, v.suggestion))
			if !ok {
				res.Failed = append(res.Failed, failure(c, v))
				continue
			}
			placed, shift, v = alt, off, av
		}

		sess := sessions.BookedSession{
			ID:              uuid.NewString(),
			TherapistID:     req.TherapistID,
			PatientID:       req.PatientID,
			ServiceID:       req.ServiceID,
			Date:            placed.Date,
			StartTime:       placed.Start,
			DurationMinutes: placed.DurationMinutes,
			Status:          sessions.StatusScheduled,
			Notes:           req.Notes,
			SeriesID:        res.SeriesID,
		}
		if commit != nil {
			if err := commit(ctx, &sess); err != nil {
				res.Failed = append(res.Failed, Failure{
					Date:      placed.Date,
					StartTime: placed.Start,
					Reason:    "could not commit session: " + err.Error(),
					Conflicts: []conflicts.Conflict{},
					Warnings:  v.warnings,
				})
				continue
			}
		}
		working = append(working, sess)
		res.Successful = append(res.Successful, Success{
			Session:        sess,
			RequestedStart: in.Start,
			AutoShifted:    shift != 0,
			ShiftMinutes:   shift,
			Warnings:       v.warnings,
		})
	}

	res.Summary = Summary{
		Total:        len(plan.Instances),
		SuccessCount: len(res.Successful),
		FailureCount: len(res.Failed),
	}
	return res
}

// CheckAvailability answers q against snap. With explicit time slots the date
// is available only when every slot is clean; otherwise the free slots of the
// day that pass the rules are listed.
func (e *Engine) CheckAvailability(q AvailabilityQuery, snap Snapshot) (Availability, error) {
	if err := q.Validate(); err != nil {
		return Availability{}, err
	}
	day := snap.Week.ForDate(q.Date)
	dur := e.duration(q.DurationMinutes, day)
	who := rules.Candidate{TherapistID: q.TherapistID, ServiceID: q.ServiceID, PatientID: q.PatientID}
	out := Availability{AvailableSlots: []availability.Slot{}, Conflicts: []conflicts.Conflict{}}
	warned := make(map[string]struct{})
	addWarnings := func(ws []string) {
		for _, w := range ws {
			if _, ok := warned[w]; !ok {
				warned[w] = struct{}{}
				out.Warnings = append(out.Warnings, w)
			}
		}
	}

	if len(q.TimeSlots) == 0 {
		booked := sessions.BlockingOn(snap.Sessions, q.Date, q.ExcludeSessionID)
		var rejected []conflicts.Conflict
		for _, slot := range availability.Slots(day, booked, dur) {
			c := conflicts.Candidate{SessionID: q.ExcludeSessionID, Date: q.Date, Start: slot.StartTime, DurationMinutes: dur}
			v := e.check(c, who, snap.Week, snap.Sessions, snap.Rules)
			addWarnings(v.warnings)
			if v.clean() {
				out.AvailableSlots = append(out.AvailableSlots, slot)
			} else if rejected == nil {
				rejected = v.conflicts
			}
		}
		out.Available = len(out.AvailableSlots) > 0
		switch {
		case !day.IsWorkingDay:
			out.Conflicts = conflicts.Detect(conflicts.Candidate{Date: q.Date, Start: day.WorkStart, DurationMinutes: dur}, day, nil)
		case out.Available:
		case rejected != nil:
			out.Conflicts = rejected
		default:
			// Every slot is taken: report why the first one is.
			c := conflicts.Candidate{SessionID: q.ExcludeSessionID, Date: q.Date, Start: day.WorkStart, DurationMinutes: dur}
			out.Conflicts = e.check(c, who, snap.Week, snap.Sessions, snap.Rules).conflicts
		}
		return out, nil
	}

	for _, start := range uniqueSorted(q.TimeSlots) {
		c := conflicts.Candidate{SessionID: q.ExcludeSessionID, Date: q.Date, Start: start, DurationMinutes: dur}
		v := e.check(c, who, snap.Week, snap.Sessions, snap.Rules)
		addWarnings(v.warnings)
		if v.clean() {
			span := c.Interval()
			out.AvailableSlots = append(out.AvailableSlots, availability.Slot{StartTime: span.Start, EndTime: span.End, DurationMinutes: dur})
			continue
		}
		out.Conflicts = append(out.Conflicts, v.conflicts...)
	}
	out.Available = len(out.Conflicts) == 0
	return out, nil
}

// Reschedule checks s at its new placement. On success the returned session
// carries the new date and time, and the previous ones as its original
// date and time. Conflicts are reported without an error.
func (e *Engine) Reschedule(s sessions.BookedSession, req RescheduleRequest, snap Snapshot) (RescheduleResult, error) {
	if err := req.Validate(); err != nil {
		return RescheduleResult{}, err
	}
	if s.Status.Terminal() {
		return RescheduleResult{}, fmt.Errorf("%w: %s is %s", ErrNotReschedulable, s.ID, s.Status)
	}
	dur := req.DurationMinutes
	if dur == 0 {
		dur = s.DurationMinutes
	}
	c := conflicts.Candidate{SessionID: s.ID, Date: req.Date, Start: req.StartTime, DurationMinutes: dur}
	who := rules.Candidate{TherapistID: s.TherapistID, ServiceID: s.ServiceID, PatientID: s.PatientID}
	v := e.check(c, who, snap.Week, snap.Sessions, snap.Rules)

	out := RescheduleResult{Session: s, Conflicts: v.conflicts, Warnings: v.warnings}
	if !v.clean() {
		return out, nil
	}
	prevDate, prevStart := s.Date, s.StartTime
	moved := s
	moved.OriginalDate = &prevDate
	moved.OriginalStartTime = &prevStart
	moved.RescheduleReason = req.Reason
	moved.Date = req.Date
	moved.StartTime = req.StartTime
	moved.DurationMinutes = dur
	out.Session = moved
	out.Rescheduled = true
	return out, nil
}

// DayConflicts validates every blocking session booked on date.
func (e *Engine) DayConflicts(date civil.Date, snap Snapshot) []conflicts.Conflict {
	out := conflicts.DetectDay(snap.Week.ForDate(date), sessions.BlockingOn(snap.Sessions, date, ""))
	if out == nil {
		out = []conflicts.Conflict{}
	}
	return out
}

// TemplateApplication holds the per-booking fields of a template run. Set
// fields override the template's defaults.
type TemplateApplication struct {
	TherapistID          string                `json:"therapist_id,omitempty"`
	PatientID            string                `json:"patient_id,omitempty"`
	StartDate            civil.Date            `json:"start_date"`
	TimeSlots            []timeofday.TimeOfDay `json:"time_slots,omitempty"`
	DurationMinutes      int                   `json:"duration_minutes,omitempty"`
	Recurrence           *recurrence.Pattern   `json:"recurrence,omitempty"`
	Notes                string                `json:"notes,omitempty"`
	AutoResolveConflicts *bool                 `json:"auto_resolve_conflicts,omitempty"`
}

// ApplyTemplate builds the request a template describes. The template's
// rules travel with the request and are evaluated with the stored rules.
func ApplyTemplate(t templates.Template, app TemplateApplication) (Request, error) {
	req := Request{
		TherapistID:          t.TherapistID,
		ServiceID:            t.ServiceID,
		PatientID:            app.PatientID,
		StartDate:            app.StartDate,
		TimeSlots:            append([]timeofday.TimeOfDay(nil), t.DefaultTimeSlots...),
		DurationMinutes:      t.DefaultDuration,
		Notes:                t.Notes,
		AutoResolveConflicts: app.AutoResolveConflicts,
		Rules:                t.RuleSet(),
	}
	if t.Recurrence != nil {
		p := *t.Recurrence
		req.Recurrence = &p
	}
	if app.TherapistID != "" {
		req.TherapistID = app.TherapistID
	}
	if len(app.TimeSlots) > 0 {
		req.TimeSlots = append([]timeofday.TimeOfDay(nil), app.TimeSlots...)
	}
	if app.DurationMinutes > 0 {
		req.DurationMinutes = app.DurationMinutes
	}
	if app.Recurrence != nil {
		p := *app.Recurrence
		req.Recurrence = &p
	}
	if app.Notes != "" {
		req.Notes = app.Notes
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

type verdict struct {
	conflicts  []conflicts.Conflict
	warnings   []string
	suggestion *rules.Suggestion
	denied     bool
}

func (v verdict) clean() bool { return len(v.conflicts) == 0 }

// check runs the conflict detector, then the rule engine, for one placement.
func (e *Engine) check(c conflicts.Candidate, who rules.Candidate, week availability.WeeklySchedule, booked []sessions.BookedSession, ruleSet []rules.Rule) verdict {
	v := verdict{conflicts: conflicts.Detect(c, week.ForDate(c.Date), booked)}
	if v.conflicts == nil {
		v.conflicts = []conflicts.Conflict{}
	}

	rc := who
	rc.Date = c.Date
	rc.Start = c.Start
	rc.DurationMinutes = c.DurationMinutes
	rc.Load = load(booked, c.Date, c.SessionID)
	ev := e.rules.Evaluate(rc, ruleSet)

	for _, f := range ev.Violations {
		v.conflicts = append(v.conflicts, conflicts.RuleViolation(f.RuleID, f.Message, c.SessionID))
		if f.Action == rules.ActionDeny {
			v.denied = true
		}
	}
	for _, f := range ev.Warnings {
		v.warnings = append(v.warnings, f.Message)
	}
	v.suggestion = ev.Suggestion
	return v
}

// resolve scans start offsets -step, +step, -2*step, ... up to bound and
// returns the first placement with no conflicts. The step is the day's slot
// grid.
func (e *Engine) resolve(c conflicts.Candidate, who rules.Candidate, week availability.WeeklySchedule, booked []sessions.BookedSession, ruleSet []rules.Rule, bound int) (conflicts.Candidate, verdict, int, bool) {
	step := e.shiftStep(week.ForDate(c.Date))
	for k := 1; k*step <= bound; k++ {
		for _, off := range [2]int{-k * step, k * step} {
			start := c.Start.Add(off)
			if start < 0 || start.Add(c.DurationMinutes) > timeofday.MinutesPerDay {
				continue
			}
			alt := c
			alt.Start = start
			if v := e.check(alt, who, week, booked, ruleSet); v.clean() {
				return alt, v, off, true
			}
		}
	}
	return c, verdict{}, 0, false
}

// shiftBound picks the tightest applicable bound: the rule suggestion, then
// the request, then the config.
func (e *Engine) shiftBound(requested int, s *rules.Suggestion) int {
	if s != nil && s.MaxTimeShift > 0 {
		return s.MaxTimeShift
	}
	if requested > 0 {
		return requested
	}
	return e.cfg.MaxTimeShiftMinutes
}

// shiftStep is session length plus buffer on a working day, else the
// configured step.
func (e *Engine) shiftStep(day availability.DaySchedule) int {
	if day.IsWorkingDay && day.SessionDuration > 0 {
		return day.SessionDuration + day.BufferBetweenSessions
	}
	return e.cfg.ShiftStepMinutes
}

func (e *Engine) duration(requested int, day availability.DaySchedule) int {
	if requested > 0 {
		return requested
	}
	if day.IsWorkingDay && day.SessionDuration > 0 {
		return day.SessionDuration
	}
	return e.cfg.DefaultSessionMinutes
}

func failure(c conflicts.Candidate, v verdict) Failure {
	return Failure{
		Date:      c.Date,
		StartTime: c.Start,
		Reason:    strings.Join(conflicts.Reasons(v.conflicts), "; "),
		Conflicts: v.conflicts,
		Warnings:  v.warnings,
	}
}

// load counts blocking sessions on date and in its Monday..Sunday week.
func load(booked []sessions.BookedSession, date civil.Date, excludeID string) rules.Load {
	weekStart := WeekStart(date)
	weekEnd := weekStart.AddDays(6)
	var l rules.Load
	for _, s := range booked {
		if !s.Blocking() || (excludeID != "" && s.ID == excludeID) {
			continue
		}
		if s.Date == date {
			l.Day++
		}
		if !s.Date.Before(weekStart) && !s.Date.After(weekEnd) {
			l.Week++
		}
	}
	return l
}

// WeekStart returns the Monday on or before date.
func WeekStart(date civil.Date) civil.Date {
	return date.AddDays(-((int(timeofday.WeekdayOf(date)) + 6) % 7))
}

func uniqueSorted(in []timeofday.TimeOfDay) []timeofday.TimeOfDay {
	out := append([]timeofday.TimeOfDay(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, t := range out {
		if i == 0 || t != out[n-1] {
			out[n] = t
			n++
		}
	}
	return out[:n]
}
