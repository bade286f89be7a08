package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentd/internal/attribution"
	"consentd/internal/platform/middleware"
	"consentd/internal/transport/http/shared"
	respond "consentd/internal/transport/http/shared/json"
	dErrors "consentd/pkg/domain-errors"
)

// Handler exposes UTM capture and retrieval.
type Handler struct {
	attribution *attribution.Service
	logger      *slog.Logger
}

// New creates an attribution Handler.
func New(attr *attribution.Service, logger *slog.Logger) *Handler {
	return &Handler{attribution: attr, logger: logger}
}

// Register mounts the attribution routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/attribution/capture", h.handleCapture)
	r.Get("/attribution", h.handleRetrieve)
	r.Delete("/attribution", h.handleClear)
}

type captureRequest struct {
	URL string `json:"url"`
}

// captureResponse mirrors the capture contract: parameters is null when
// nothing was captured (consent denied or no UTM keys in the URL).
type captureResponse struct {
	Parameters attribution.Params `json:"parameters"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	params, err := h.attribution.Capture(r.Context(), visitorID, sessionID, req.URL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "utm capture failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, captureResponse{Parameters: params})
}

func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := h.identity(w, r)
	if !ok {
		return
	}
	params := h.attribution.Retrieve(r.Context(), visitorID, sessionID)
	respond.WriteJSON(w, http.StatusOK, captureResponse{Parameters: params})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := h.identity(w, r)
	if !ok {
		return
	}
	h.attribution.Clear(r.Context(), sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (visitorID, sessionID string, ok bool) {
	visitorID = middleware.GetVisitorID(r.Context())
	sessionID = middleware.GetSessionID(r.Context())
	if visitorID == "" || sessionID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing visitor or session ID"))
		return "", "", false
	}
	return visitorID, sessionID, true
}
