package scheduler

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/internal/locking"
	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/templates"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// Scheduling is the service surface the handler drives.
type Scheduling interface {
	Schedule(ctx context.Context, req Request) (Result, error)
	CheckAvailability(ctx context.Context, q AvailabilityQuery) (Availability, error)
	Reschedule(ctx context.Context, sessionID string, req RescheduleRequest) (RescheduleResult, error)
	UpdateStatus(ctx context.Context, sessionID string, status sessions.Status) (*sessions.BookedSession, error)
	ApplyTemplate(ctx context.Context, templateID string, app TemplateApplication) (Result, error)
	DayConflicts(ctx context.Context, therapistID string, date civil.Date) ([]conflicts.Conflict, error)
}

// Handler serves the scheduling operations.
type Handler struct {
	svc    Scheduling
	logger *logging.Logger
}

// NewHandler creates the scheduling handler.
func NewHandler(svc Scheduling, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("scheduler: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts under /scheduling.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/availability/check", h.CheckAvailability)
	r.Post("/sessions/schedule", h.Schedule)
	r.Post("/sessions/{sessionID}/reschedule", h.Reschedule)
	r.Patch("/sessions/{sessionID}/status", h.UpdateStatus)
	r.Post("/templates/{templateID}/apply", h.ApplyTemplate)
	r.Get("/therapists/{therapistID}/conflicts", h.DayConflicts)
	return r
}

// CheckAvailability reports free slots or the conflicts of explicit slots.
// POST /scheduling/availability/check
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var q AvailabilityQuery
	if err := respond.Decode(r, &q); err != nil {
		writeDecodeError(w, err)
		return
	}
	out, err := h.svc.CheckAvailability(r.Context(), q)
	if err != nil {
		h.writeError(w, "check availability", err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

// Schedule books a single session or a recurring series.
// POST /scheduling/sessions/schedule
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := respond.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := h.svc.Schedule(r.Context(), req)
	if err != nil {
		h.writeError(w, "schedule", err)
		return
	}
	respond.JSON(w, resultStatus(res), res)
}

// Reschedule moves one session.
// POST /scheduling/sessions/{sessionID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := respond.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	out, err := h.svc.Reschedule(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		h.writeError(w, "reschedule", err)
		return
	}
	status := http.StatusOK
	if !out.Rescheduled {
		status = http.StatusConflict
	}
	respond.JSON(w, status, out)
}

type statusRequest struct {
	Status sessions.Status `json:"status"`
}

// UpdateStatus changes a session's lifecycle status.
// PATCH /scheduling/sessions/{sessionID}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := respond.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	sess, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "sessionID"), req.Status)
	if err != nil {
		h.writeError(w, "update status", err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

// ApplyTemplate schedules from a stored template.
// POST /scheduling/templates/{templateID}/apply
func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var app TemplateApplication
	if err := respond.Decode(r, &app); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := h.svc.ApplyTemplate(r.Context(), chi.URLParam(r, "templateID"), app)
	if err != nil {
		h.writeError(w, "apply template", err)
		return
	}
	respond.JSON(w, resultStatus(res), res)
}

// DayConflicts lists the conflicts among a day's booked sessions.
// GET /scheduling/therapists/{therapistID}/conflicts?date=YYYY-MM-DD
func (h *Handler) DayConflicts(w http.ResponseWriter, r *http.Request) {
	therapistID := chi.URLParam(r, "therapistID")
	date, err := timeofday.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	out, err := h.svc.DayConflicts(r.Context(), therapistID, date)
	if err != nil {
		h.writeError(w, "day conflicts", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"therapist_id": therapistID,
		"date":         date,
		"conflicts":    out,
	})
}

// resultStatus is 201 when anything was booked and 409 when every instance failed.
func resultStatus(res Result) int {
	if res.Summary.Total > 0 && res.Summary.SuccessCount == 0 {
		return http.StatusConflict
	}
	if res.Summary.SuccessCount > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

func writeDecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeofday.ErrInvalidTimeFormat), errors.Is(err, timeofday.ErrOutOfRange):
		respond.Error(w, http.StatusBadRequest, "invalid_time", err.Error())
	default:
		respond.Error(w, http.StatusBadRequest, "invalid_json", err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, recurrence.ErrNoTermination):
		respond.Error(w, http.StatusBadRequest, "no_termination", err.Error())
	case errors.Is(err, recurrence.ErrInvalidDateRange):
		respond.Error(w, http.StatusBadRequest, "invalid_date_range", err.Error())
	case errors.Is(err, recurrence.ErrInvalidPattern):
		respond.Error(w, http.StatusBadRequest, "invalid_recurrence", err.Error())
	case errors.Is(err, ErrInvalidRequest):
		respond.Error(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, sessions.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, templates.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", "template not found")
	case errors.Is(err, ErrNotReschedulable), errors.Is(err, sessions.ErrNotMovable):
		respond.Error(w, http.StatusConflict, "not_reschedulable", err.Error())
	case errors.Is(err, sessions.ErrSlotTaken):
		respond.Error(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, locking.ErrNotAcquired):
		respond.Error(w, http.StatusServiceUnavailable, "busy", "another booking for this therapist is in progress")
	case errors.Is(err, ErrTemplatesDisabled):
		respond.Error(w, http.StatusNotImplemented, "templates_disabled", err.Error())
	default:
		h.logger.Error("scheduling request failed", "action", action, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
