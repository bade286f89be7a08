package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentd/internal/platform/middleware"
	"consentd/internal/tracking"
	"consentd/internal/transport/http/shared"
	respond "consentd/internal/transport/http/shared/json"
	dErrors "consentd/pkg/domain-errors"
)

// Handler exposes the tracking entry points. Tracking calls are accepted
// and acknowledged even when emission fails downstream; the frontend never
// sees an analytics failure.
type Handler struct {
	tracking *tracking.Service
	logger   *slog.Logger
}

// New creates a tracking Handler.
func New(t *tracking.Service, logger *slog.Logger) *Handler {
	return &Handler{tracking: t, logger: logger}
}

// Register mounts the tracking routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/track/conversion", h.handleConversion)
	r.Post("/track/cta", h.handleCTA)
	r.Post("/track/pageview", h.handlePageView)
}

type conversionRequest struct {
	CTA         string               `json:"cta"`
	Location    string               `json:"location"`
	PageVariant string               `json:"page_variant"`
	Label       string               `json:"label"`
	Destination string               `json:"destination"`
	UTM         map[string]string    `json:"utm"`
	Page        tracking.PageContext `json:"page"`
}

func (h *Handler) handleConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CTA == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ctx := r.Context()
	h.tracking.TrackConversion(ctx, tracking.ConversionRequest{
		VisitorID:   middleware.GetVisitorID(ctx),
		SessionID:   middleware.GetSessionID(ctx),
		CTA:         req.CTA,
		Location:    req.Location,
		PageVariant: req.PageVariant,
		Label:       req.Label,
		Destination: req.Destination,
		UTM:         req.UTM,
		Page:        req.Page,
		UserAgent:   r.UserAgent(),
	})
	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type ctaRequest struct {
	CTA         string            `json:"cta"`
	Destination string            `json:"destination"`
	UTM         map[string]string `json:"utm"`
}

func (h *Handler) handleCTA(w http.ResponseWriter, r *http.Request) {
	var req ctaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CTA == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	h.tracking.TrackCTAClick(r.Context(), tracking.CTARequest{
		CTA:         req.CTA,
		Destination: req.Destination,
		UTM:         req.UTM,
	})
	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type pageViewRequest struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

func (h *Handler) handlePageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	h.tracking.TrackPageView(r.Context(), req.Path, req.Title)
	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
