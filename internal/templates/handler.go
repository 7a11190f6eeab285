package templates

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// TemplateStore is the persistence the handler needs.
type TemplateStore interface {
	Create(ctx context.Context, t *Template) error
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context) ([]Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id string) error
}

// Handler serves template CRUD.
type Handler struct {
	store  TemplateStore
	logger *logging.Logger
}

// NewHandler creates the templates handler.
func NewHandler(store TemplateStore, logger *logging.Logger) *Handler {
	if store == nil {
		panic("templates: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes mounts under /templates.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{templateID}", h.Get)
	r.Put("/{templateID}", h.Update)
	r.Delete("/{templateID}", h.Delete)
	return r
}

// List returns every template.
// GET /templates
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list templates", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"templates": list})
}

// Create stores a new template.
// POST /templates
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	t, ok := h.decode(w, r)
	if !ok {
		return
	}
	t.ID = ""
	if err := h.store.Create(r.Context(), &t); err != nil {
		h.writeStoreError(w, "create", t.ID, err)
		return
	}
	h.logger.Info("template created", "template_id", t.ID, "name", t.Name)
	respond.JSON(w, http.StatusCreated, t)
}

// Get returns one template.
// GET /templates/{templateID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get", id, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

// Update replaces a template.
// PUT /templates/{templateID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	t, ok := h.decode(w, r)
	if !ok {
		return
	}
	t.ID = id
	if err := h.store.Update(r.Context(), &t); err != nil {
		h.writeStoreError(w, "update", id, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

// Delete removes a template.
// DELETE /templates/{templateID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, "delete", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Template, bool) {
	var t Template
	if err := respond.Decode(r, &t); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_json", err.Error())
		return Template{}, false
	}
	if err := t.Validate(); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_template", err.Error())
		return Template{}, false
	}
	return t, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, action, id string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", "template not found")
	case errors.Is(err, ErrInvalidTemplate):
		respond.Error(w, http.StatusBadRequest, "invalid_template", err.Error())
	default:
		h.logger.Error("template store failure", "action", action, "template_id", id, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
