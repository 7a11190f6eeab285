package rules

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// RuleStore is the persistence the handler needs.
type RuleStore interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, activeOnly bool) ([]Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
}

// Handler serves rule CRUD. Every write is validated by the engine first.
type Handler struct {
	store  RuleStore
	engine *Engine
	logger *logging.Logger
}

// NewHandler creates the rules handler.
func NewHandler(store RuleStore, engine *Engine, logger *logging.Logger) *Handler {
	if store == nil {
		panic("rules: store required")
	}
	if engine == nil {
		engine = NewEngine(nil, nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, engine: engine, logger: logger}
}

// Routes mounts under /rules.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/validate", h.Validate)
	r.Get("/{ruleID}", h.Get)
	r.Put("/{ruleID}", h.Update)
	r.Delete("/{ruleID}", h.Delete)
	return r
}

// List returns all rules, or only active ones with ?active=true.
// GET /rules
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.store.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("failed to list rules", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"rules": list})
}

// Create validates and stores a new rule.
// POST /rules
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.decode(w, r)
	if !ok {
		return
	}
	rule.ID = ""
	if err := h.store.Create(r.Context(), &rule); err != nil {
		h.logger.Error("failed to create rule", "name", rule.Name, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to save rule")
		return
	}
	h.logger.Info("rule created", "rule_id", rule.ID, "type", rule.Type, "priority", rule.Priority)
	respond.JSON(w, http.StatusCreated, rule)
}

// Get returns one rule.
// GET /rules/{ruleID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get", id, err)
		return
	}
	respond.JSON(w, http.StatusOK, rule)
}

// Update replaces a rule.
// PUT /rules/{ruleID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get", id, err)
		return
	}
	rule, ok := h.decode(w, r)
	if !ok {
		return
	}
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	if err := h.store.Update(r.Context(), &rule); err != nil {
		h.writeStoreError(w, "update", id, err)
		return
	}
	h.logger.Info("rule updated", "rule_id", id)
	respond.JSON(w, http.StatusOK, rule)
}

// Delete removes a rule.
// DELETE /rules/{ruleID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, "delete", id, err)
		return
	}
	h.logger.Info("rule deleted", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ValidationResponse reports whether a rule would be accepted.
type ValidationResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Validate checks a rule without storing it.
// POST /rules/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := respond.Decode(r, &rule); err != nil {
		respond.JSON(w, http.StatusOK, ValidationResponse{Error: err.Error()})
		return
	}
	if err := h.engine.Validate(rule); err != nil {
		respond.JSON(w, http.StatusOK, ValidationResponse{Error: err.Error()})
		return
	}
	respond.JSON(w, http.StatusOK, ValidationResponse{Valid: true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Rule, bool) {
	var rule Rule
	if err := respond.Decode(r, &rule); err != nil {
		if errors.Is(err, ErrInvalidRule) {
			respond.Error(w, http.StatusBadRequest, "invalid_rule", err.Error())
			return Rule{}, false
		}
		respond.Error(w, http.StatusBadRequest, "invalid_json", err.Error())
		return Rule{}, false
	}
	if err := h.engine.Validate(rule); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return Rule{}, false
	}
	return rule, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, action, id string, err error) {
	if errors.Is(err, ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}
	h.logger.Error("rule store failure", "action", action, "rule_id", id, "error", err)
	respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
}
