package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	"github.com/wolfman30/therapy-scheduling/internal/events"
	"github.com/wolfman30/therapy-scheduling/internal/locking"
	"github.com/wolfman30/therapy-scheduling/internal/observability/metrics"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/templates"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

var tracer = otel.Tracer("therapy.internal.scheduler")

// ErrTemplatesDisabled is returned by ApplyTemplate when no template store is wired.
var ErrTemplatesDisabled = errors.New("scheduler: templates not configured")

// SessionStore persists booked sessions.
type SessionStore interface {
	Insert(ctx context.Context, s *sessions.BookedSession) error
	Get(ctx context.Context, id string) (*sessions.BookedSession, error)
	ListForTherapist(ctx context.Context, therapistID string, from, to civil.Date) ([]sessions.BookedSession, error)
	UpdateSchedule(ctx context.Context, s *sessions.BookedSession) error
	UpdateStatus(ctx context.Context, id string, status sessions.Status) error
}

// ScheduleStore returns a therapist's working week.
type ScheduleStore interface {
	Get(ctx context.Context, therapistID string) (*availability.WeeklySchedule, error)
}

// RuleSource lists scheduling rules.
type RuleSource interface {
	List(ctx context.Context, activeOnly bool) ([]rules.Rule, error)
}

// TemplateSource loads scheduling templates.
type TemplateSource interface {
	Get(ctx context.Context, id string) (*templates.Template, error)
}

// EventAppender records domain events for delivery.
type EventAppender interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
}

// Deps are the collaborators of a Service. Sessions and Schedules are required.
type Deps struct {
	Sessions  SessionStore
	Schedules ScheduleStore
	Rules     RuleSource
	Templates TemplateSource
	Locker    locking.Locker
	Events    EventAppender
	Metrics   *metrics.SchedulingMetrics
	Logger    *logging.Logger
}

// Service loads snapshots, serialises commits per therapist and date, and
// records events around the Engine.
type Service struct {
	engine    *Engine
	sessions  SessionStore
	schedules ScheduleStore
	rules     RuleSource
	templates TemplateSource
	locker    locking.Locker
	events    EventAppender
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates a scheduling service.
func NewService(engine *Engine, deps Deps) *Service {
	if engine == nil {
		panic("scheduler: engine required")
	}
	if deps.Sessions == nil {
		panic("scheduler: session store required")
	}
	if deps.Schedules == nil {
		panic("scheduler: schedule store required")
	}
	if deps.Locker == nil {
		deps.Locker = locking.NewKeyedMutex()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Service{
		engine:    engine,
		sessions:  deps.Sessions,
		schedules: deps.Schedules,
		rules:     deps.Rules,
		templates: deps.Templates,
		locker:    deps.Locker,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       engine.Config().Now,
	}
}

// Schedule expands req and commits every clean instance.
func (s *Service) Schedule(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "scheduler.schedule", trace.WithAttributes(
		attribute.String("therapy.therapist_id", req.TherapistID),
	))
	defer span.End()
	started := time.Now()

	plan, err := s.engine.Plan(req)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("therapy.instances", len(plan.Instances)))

	dates := plan.Dates()
	if len(dates) == 0 {
		return s.engine.Run(ctx, req, plan, Snapshot{}, nil), nil
	}

	release, err := s.lock(ctx, req.TherapistID, dates...)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	defer release()

	snap, err := s.snapshot(ctx, req.TherapistID, dates[0], dates[len(dates)-1])
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res := s.engine.Run(ctx, req, plan, snap, s.sessions.Insert)

	corr := middleware.GetReqID(ctx)
	for _, ok := range res.Successful {
		sess := ok.Session
		s.publish(ctx, sess.TherapistID, corr, events.SessionScheduledV1{
			SessionID:       sess.ID,
			TherapistID:     sess.TherapistID,
			PatientID:       sess.PatientID,
			ServiceID:       sess.ServiceID,
			SeriesID:        sess.SeriesID,
			Date:            sess.Date,
			StartTime:       sess.StartTime.String(),
			DurationMinutes: sess.DurationMinutes,
			AutoShifted:     ok.AutoShifted,
			ScheduledAt:     s.now().UTC(),
		})
		outcome := "committed"
		if ok.AutoShifted {
			outcome = "shifted"
		}
		s.metrics.ObserveInstance(outcome)
	}
	for _, f := range res.Failed {
		s.metrics.ObserveInstance("rejected")
		s.observeConflicts(f.Conflicts)
	}
	if len(plan.Instances) > 1 {
		s.publish(ctx, req.TherapistID, corr, events.BatchCompletedV1{
			TherapistID:  req.TherapistID,
			SeriesID:     res.SeriesID,
			Total:        res.Summary.Total,
			SuccessCount: res.Summary.SuccessCount,
			FailureCount: res.Summary.FailureCount,
			CompletedAt:  s.now().UTC(),
		})
	}
	s.metrics.ObserveLatency("schedule", time.Since(started).Seconds())

	span.SetAttributes(
		attribute.Int("therapy.success_count", res.Summary.SuccessCount),
		attribute.Int("therapy.failure_count", res.Summary.FailureCount),
	)
	s.logger.Info("scheduling request processed",
		"therapist_id", req.TherapistID,
		"series_id", res.SeriesID,
		"total", res.Summary.Total,
		"succeeded", res.Summary.SuccessCount,
		"failed", res.Summary.FailureCount,
	)
	return res, nil
}

// CheckAvailability answers q without committing anything.
func (s *Service) CheckAvailability(ctx context.Context, q AvailabilityQuery) (Availability, error) {
	ctx, span := tracer.Start(ctx, "scheduler.check_availability", trace.WithAttributes(
		attribute.String("therapy.therapist_id", q.TherapistID),
		attribute.String("therapy.date", q.Date.String()),
	))
	defer span.End()
	started := time.Now()

	if err := q.Validate(); err != nil {
		return Availability{}, err
	}
	snap, err := s.snapshot(ctx, q.TherapistID, q.Date, q.Date)
	if err != nil {
		span.RecordError(err)
		return Availability{}, err
	}
	out, err := s.engine.CheckAvailability(q, snap)
	if err != nil {
		return Availability{}, err
	}
	s.metrics.ObserveAvailabilityCheck(out.Available)
	s.observeConflicts(out.Conflicts)
	s.metrics.ObserveLatency("availability", time.Since(started).Seconds())
	return out, nil
}

// Reschedule moves a session when its new placement is clean.
func (s *Service) Reschedule(ctx context.Context, sessionID string, req RescheduleRequest) (RescheduleResult, error) {
	ctx, span := tracer.Start(ctx, "scheduler.reschedule", trace.WithAttributes(
		attribute.String("therapy.session_id", sessionID),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return RescheduleResult{}, err
	}
	current, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return RescheduleResult{}, fmt.Errorf("scheduler: load session: %w", err)
	}

	release, err := s.lock(ctx, current.TherapistID, current.Date, req.Date)
	if err != nil {
		span.RecordError(err)
		return RescheduleResult{}, err
	}
	defer release()

	// Re-read under the lock so the check sees the committed state.
	current, err = s.sessions.Get(ctx, sessionID)
	if err != nil {
		return RescheduleResult{}, fmt.Errorf("scheduler: load session: %w", err)
	}
	snap, err := s.snapshot(ctx, current.TherapistID, req.Date, req.Date)
	if err != nil {
		span.RecordError(err)
		return RescheduleResult{}, err
	}
	out, err := s.engine.Reschedule(*current, req, snap)
	if err != nil {
		s.metrics.ObserveReschedule("rejected")
		return RescheduleResult{}, err
	}
	if !out.Rescheduled {
		s.metrics.ObserveReschedule("rejected")
		s.observeConflicts(out.Conflicts)
		s.logger.Info("reschedule rejected", "session_id", sessionID, "conflicts", len(out.Conflicts))
		return out, nil
	}

	if err := s.sessions.UpdateSchedule(ctx, &out.Session); err != nil {
		span.RecordError(err)
		return RescheduleResult{}, fmt.Errorf("scheduler: update session: %w", err)
	}
	s.metrics.ObserveReschedule("committed")
	s.publish(ctx, out.Session.TherapistID, middleware.GetReqID(ctx), events.SessionRescheduledV1{
		SessionID:     out.Session.ID,
		TherapistID:   out.Session.TherapistID,
		PreviousDate:  current.Date,
		PreviousStart: current.StartTime.String(),
		Date:          out.Session.Date,
		StartTime:     out.Session.StartTime.String(),
		Reason:        out.Session.RescheduleReason,
		RescheduledAt: s.now().UTC(),
	})
	s.logger.Info("session rescheduled",
		"session_id", sessionID,
		"from", current.Date.String()+" "+current.StartTime.String(),
		"to", out.Session.Date.String()+" "+out.Session.StartTime.String(),
	)
	return out, nil
}

// UpdateStatus moves a session through its lifecycle. Terminal sessions stop
// blocking their slot.
func (s *Service) UpdateStatus(ctx context.Context, sessionID string, status sessions.Status) (*sessions.BookedSession, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	current, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load session: %w", err)
	}
	if err := s.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		return nil, fmt.Errorf("scheduler: update status: %w", err)
	}
	current.Status = status
	current.UpdatedAt = s.now().UTC()
	s.publish(ctx, current.TherapistID, middleware.GetReqID(ctx), events.SessionStatusChangedV1{
		SessionID:   current.ID,
		TherapistID: current.TherapistID,
		Status:      string(status),
		ChangedAt:   current.UpdatedAt,
	})
	return current, nil
}

// ApplyTemplate schedules the request built from a stored template.
func (s *Service) ApplyTemplate(ctx context.Context, templateID string, app TemplateApplication) (Result, error) {
	if s.templates == nil {
		return Result{}, ErrTemplatesDisabled
	}
	t, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: load template: %w", err)
	}
	req, err := ApplyTemplate(*t, app)
	if err != nil {
		return Result{}, err
	}
	return s.Schedule(ctx, req)
}

// DayConflicts validates the therapist's booked day.
func (s *Service) DayConflicts(ctx context.Context, therapistID string, date civil.Date) ([]conflicts.Conflict, error) {
	snap, err := s.snapshot(ctx, therapistID, date, date)
	if err != nil {
		return nil, err
	}
	return s.engine.DayConflicts(date, snap), nil
}

func (s *Service) lock(ctx context.Context, therapistID string, dates ...civil.Date) (func(), error) {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, locking.Key(therapistID, d))
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: lock: %w", err)
	}
	return release, nil
}

// snapshot loads the week, the sessions of every week in [from, to] and the
// active rules.
func (s *Service) snapshot(ctx context.Context, therapistID string, from, to civil.Date) (Snapshot, error) {
	week, err := s.schedules.Get(ctx, therapistID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("scheduler: load schedule: %w", err)
	}
	snap := Snapshot{Week: *week}
	snap.Sessions, err = s.sessions.ListForTherapist(ctx, therapistID, WeekStart(from), WeekStart(to).AddDays(6))
	if err != nil {
		return Snapshot{}, fmt.Errorf("scheduler: load sessions: %w", err)
	}
	if s.rules != nil {
		snap.Rules, err = s.rules.List(ctx, true)
		if err != nil {
			return Snapshot{}, fmt.Errorf("scheduler: load rules: %w", err)
		}
	}
	return snap, nil
}

func (s *Service) publish(ctx context.Context, therapistID, correlationID string, evt events.CanonicalEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Append(ctx, events.TherapistAggregate(therapistID), correlationID, evt); err != nil {
		s.logger.Error("failed to record scheduling event", "type", evt.EventType(), "therapist_id", therapistID, "error", err)
	}
}

func (s *Service) observeConflicts(cs []conflicts.Conflict) {
	for _, c := range cs {
		s.metrics.ObserveConflict(string(c.Kind))
	}
}
