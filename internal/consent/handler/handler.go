package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentd/internal/consent/machine"
	"consentd/internal/consent/models"
	"consentd/internal/platform/middleware"
	"consentd/internal/transport/http/shared"
	respond "consentd/internal/transport/http/shared/json"
	dErrors "consentd/pkg/domain-errors"
)

// Handler exposes the consent state machine over HTTP. It is a thin layer:
// all semantics live in the machine package.
type Handler struct {
	registry *machine.Registry
	logger   *slog.Logger
}

// New creates a consent Handler.
func New(registry *machine.Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register mounts the consent routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consent", h.handleGetState)
	r.Post("/consent/accept-all", h.handleAcceptAll)
	r.Post("/consent/reject-all", h.handleRejectAll)
	r.Put("/consent/preferences", h.handleUpdatePreferences)
	r.Patch("/consent/{category}", h.handleUpdateCategory)
	r.Post("/consent/banner/hide", h.handleHideBanner)
	r.Delete("/consent", h.handleErase)
	r.Get("/consent/export", h.handleExport)
}

// stateResponse is the wire form of the current consent state plus the
// derived permission booleans the frontend polls.
type stateResponse struct {
	models.State
	CanTrackAnalytics bool `json:"canTrackAnalytics"`
	CanTrackMarketing bool `json:"canTrackMarketing"`
	CanPersonalize    bool `json:"canPersonalize"`
}

func (h *Handler) respondState(w http.ResponseWriter, m *machine.Machine) {
	state := m.State()
	respond.WriteJSON(w, http.StatusOK, stateResponse{
		State:             state,
		CanTrackAnalytics: state.Granted(models.CategoryAnalytics),
		CanTrackMarketing: state.Granted(models.CategoryMarketing),
		CanPersonalize:    state.Granted(models.CategoryPersonalization),
	})
}

// visitorMachine resolves the caller's machine, or writes a 400 when no
// visitor ID accompanied the request.
func (h *Handler) visitorMachine(w http.ResponseWriter, r *http.Request) (*machine.Machine, bool) {
	visitorID := middleware.GetVisitorID(r.Context())
	if visitorID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing visitor ID"))
		return nil, false
	}
	return h.registry.Get(r.Context(), visitorID), true
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	h.respondState(w, m)
}

func (h *Handler) handleAcceptAll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	if err := m.AcceptAll(r.Context()); err != nil {
		h.logError(r, "accept all failed", err)
		shared.WriteError(w, err)
		return
	}
	h.respondState(w, m)
}

func (h *Handler) handleRejectAll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	if err := m.RejectAll(r.Context()); err != nil {
		h.logError(r, "reject all failed", err)
		shared.WriteError(w, err)
		return
	}
	h.respondState(w, m)
}

type preferencesRequest struct {
	Preferences map[models.Category]bool `json:"preferences"`
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := m.UpdateMultiple(r.Context(), req.Preferences); err != nil {
		h.logError(r, "update preferences failed", err)
		shared.WriteError(w, err)
		return
	}
	h.respondState(w, m)
}

type categoryRequest struct {
	Granted bool `json:"granted"`
}

func (h *Handler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	category := models.Category(chi.URLParam(r, "category"))
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := m.UpdateConsent(r.Context(), category, req.Granted); err != nil {
		h.logError(r, "update category failed", err)
		shared.WriteError(w, err)
		return
	}
	h.respondState(w, m)
}

func (h *Handler) handleHideBanner(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	if err := m.HideBanner(r.Context()); err != nil {
		h.logError(r, "hide banner failed", err)
		shared.WriteError(w, err)
		return
	}
	h.respondState(w, m)
}

// handleErase implements the GDPR erasure flow. It always succeeds from the
// caller's perspective; a failing backend clear is logged, not surfaced.
func (h *Handler) handleErase(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	m.DeleteRecord(r.Context())
	h.respondState(w, m)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	m, ok := h.visitorMachine(w, r)
	if !ok {
		return
	}
	respond.WriteJSON(w, http.StatusOK, m.ExportRecord(r.Context()))
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err,
	)
}
