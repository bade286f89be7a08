package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	attributionHandler "consentd/internal/attribution/handler"
	consentHandler "consentd/internal/consent/handler"
	"consentd/internal/platform/health"
	"consentd/internal/platform/middleware"
	trackingHandler "consentd/internal/tracking/handler"
)

// Deps holds everything the router needs. It keeps the transport layer thin:
// handlers delegate to domain services without embedding business logic.
type Deps struct {
	Consent     *consentHandler.Handler
	Attribution *attributionHandler.Handler
	Tracking    *trackingHandler.Handler
	Health      *health.Handler
	Logger      *slog.Logger
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	// Operational endpoints stay outside the identity and content-type
	// requirements so probes and scrapers need no headers.
	d.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Identity)

		d.Consent.Register(r)
		d.Attribution.Register(r)
		d.Tracking.Register(r)
	})

	return r
}
