package availability

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
	"github.com/wolfman30/therapy-scheduling/internal/timeofday"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// ScheduleStore is the persistence the handler needs.
type ScheduleStore interface {
	Get(ctx context.Context, therapistID string) (*WeeklySchedule, error)
	Set(ctx context.Context, week *WeeklySchedule) error
	Delete(ctx context.Context, therapistID string) error
}

// SessionLister loads booked sessions for slot listing.
type SessionLister interface {
	ListForTherapist(ctx context.Context, therapistID string, from, to civil.Date) ([]sessions.BookedSession, error)
}

// Handler serves therapist working schedules and free slots.
type Handler struct {
	store    ScheduleStore
	sessions SessionLister
	logger   *logging.Logger
}

// NewHandler creates the schedule handler.
func NewHandler(store ScheduleStore, lister SessionLister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, sessions: lister, logger: logger}
}

// Routes mounts under /therapists.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{therapistID}/schedule", h.GetSchedule)
	r.Put("/{therapistID}/schedule", h.PutSchedule)
	r.Delete("/{therapistID}/schedule", h.DeleteSchedule)
	r.Get("/{therapistID}/slots", h.ListSlots)
	return r
}

// GetSchedule returns the therapist's week.
// GET /therapists/{therapistID}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	therapistID := chi.URLParam(r, "therapistID")
	week, err := h.store.Get(r.Context(), therapistID)
	if err != nil {
		h.logger.Error("failed to get schedule", "therapist_id", therapistID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, week)
}

// PutSchedule replaces the therapist's week.
// PUT /therapists/{therapistID}/schedule
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	therapistID := chi.URLParam(r, "therapistID")

	var week WeeklySchedule
	if err := respond.Decode(r, &week); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	week.TherapistID = therapistID

	if err := h.store.Set(r.Context(), &week); err != nil {
		if errors.Is(err, ErrInvalidSchedule) {
			respond.Error(w, http.StatusBadRequest, "invalid_schedule", err.Error())
			return
		}
		h.logger.Error("failed to save schedule", "therapist_id", therapistID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to save schedule")
		return
	}

	h.logger.Info("schedule updated", "therapist_id", therapistID, "days", len(week.Days))
	respond.JSON(w, http.StatusOK, week)
}

// DeleteSchedule resets the therapist to the default week.
// DELETE /therapists/{therapistID}/schedule
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	therapistID := chi.URLParam(r, "therapistID")
	if err := h.store.Delete(r.Context(), therapistID); err != nil {
		h.logger.Error("failed to delete schedule", "therapist_id", therapistID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SlotsResponse lists free slots for one date.
type SlotsResponse struct {
	TherapistID string     `json:"therapist_id"`
	Date        civil.Date `json:"date"`
	WorkingDay  bool       `json:"working_day"`
	Slots       []Slot     `json:"slots"`
}

// ListSlots computes free slots for a date.
// GET /therapists/{therapistID}/slots?date=YYYY-MM-DD&duration=60
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	therapistID := chi.URLParam(r, "therapistID")
	date, err := timeofday.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 {
			respond.Error(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
			return
		}
	}

	week, err := h.store.Get(r.Context(), therapistID)
	if err != nil {
		h.logger.Error("failed to get schedule", "therapist_id", therapistID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	day := week.ForDate(date)

	var booked []sessions.BookedSession
	if day.IsWorkingDay && h.sessions != nil {
		booked, err = h.sessions.ListForTherapist(r.Context(), therapistID, date, date)
		if err != nil {
			h.logger.Error("failed to list sessions", "therapist_id", therapistID, "error", err)
			respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
			return
		}
	}

	respond.JSON(w, http.StatusOK, SlotsResponse{
		TherapistID: therapistID,
		Date:        date,
		WorkingDay:  day.IsWorkingDay,
		Slots:       Slots(day, sessions.BlockingOn(booked, date, ""), duration),
	})
}
