package tracking

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/mssola/useragent"

	"consentd/internal/attribution"
)

// ConversionType labels ad-destination conversions on the sink.
const ConversionType = "ad_conversion"

// Service builds attribution-enriched analytics events. Every entry point
// swallows its own failures: tracking must never throw into caller UI code.
type Service struct {
	attribution      *attribution.Service
	sink             Sink
	logger           *slog.Logger
	conversionDomain string
	now              func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the tracking service. conversionDomain is the
// hostname whose outbound clicks count as ad conversions.
func NewService(attr *attribution.Service, sink Sink, conversionDomain string, opts ...Option) *Service {
	s := &Service{
		attribution:      attr,
		sink:             sink,
		logger:           slog.Default(),
		conversionDomain: conversionDomain,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeToConversion returns whole seconds since the session's UTM capture,
// or nil when no capture exists. It reads the raw capture timestamp,
// deliberately bypassing the consent gate Retrieve enforces: elapsed time
// is needed even to diagnose consent-denied flows.
func (s *Service) TimeToConversion(ctx context.Context, sessionID string) *int64 {
	capturedAt, ok := s.attribution.CapturedAt(ctx, sessionID)
	if !ok {
		return nil
	}
	seconds := int64(s.now().Sub(capturedAt) / time.Second)
	return &seconds
}

// IsAdDestination reports whether the URL points at the conversion-tracked
// domain. Only an exact hostname match counts.
func (s *Service) IsAdDestination(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Hostname() == s.conversionDomain
}

// TrackConversion routes a conversion click by destination: link-outs to
// the conversion-tracked domain take the attribution-enriched ad path,
// everything else the simple CTA path.
func (s *Service) TrackConversion(ctx context.Context, req ConversionRequest) {
	if s.IsAdDestination(req.Destination) {
		s.TrackAdConversion(ctx, req)
		return
	}
	s.TrackCTAClick(ctx, CTARequest{
		CTA:         req.CTA,
		Destination: req.Destination,
		UTM:         req.UTM,
	})
}

// TrackAdConversion composes and emits an ad conversion event: stored
// session UTM (consent-gated) merged under explicit overrides, CTA
// metadata, destination, time-to-conversion, page context, and a direct
// conversion flag.
func (s *Service) TrackAdConversion(ctx context.Context, req ConversionRequest) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in conversion tracking", "panic", r)
		}
	}()

	stored := s.attribution.Retrieve(ctx, req.VisitorID, req.SessionID)
	merged := make(map[string]string, len(stored)+len(req.UTM))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range req.UTM {
		if v != "" {
			merged[k] = v
		}
	}

	props := make(map[string]any)
	for k, v := range merged {
		props[k] = v
	}
	props["cta"] = req.CTA
	props["cta_location"] = req.Location
	props["page_variant"] = req.PageVariant
	if req.Label != "" {
		props["label"] = req.Label
	}
	if ttc := s.TimeToConversion(ctx, req.SessionID); ttc != nil {
		props["time_to_conversion"] = *ttc
	} else {
		props["time_to_conversion"] = nil
	}
	props["page_path"] = req.Page.Path
	props["page_title"] = req.Page.Title
	props["page_url"] = req.Page.URL
	if req.Page.Referrer != "" {
		props["referrer"] = req.Page.Referrer
	}
	props["is_direct_conversion"] = len(merged) > 0
	props["timestamp"] = s.now().UTC().Format(time.RFC3339Nano)
	deviceProps(req.UserAgent, props)

	if err := s.sink.TrackConversion(ctx, ConversionType, req.Destination, props); err != nil {
		s.logger.Warn("conversion emit failed",
			"cta", req.CTA,
			"destination", req.Destination,
			"error", err,
		)
	}
}

// TrackCTAClick handles non-ad conversions: event name is the CTA id, the
// destination falls back to the CTA id, and only explicitly supplied UTM
// keys are attached.
func (s *Service) TrackCTAClick(ctx context.Context, req CTARequest) {
	destination := req.Destination
	if destination == "" {
		destination = req.CTA
	}
	props := map[string]any{"destination": destination}
	for k, v := range req.UTM {
		if v != "" {
			props[k] = v
		}
	}
	if err := s.sink.TrackEvent(ctx, req.CTA, props); err != nil {
		s.logger.Warn("cta emit failed", "cta", req.CTA, "error", err)
	}
}

// TrackPageView forwards a page view to the sink.
func (s *Service) TrackPageView(ctx context.Context, path, title string) {
	if err := s.sink.TrackPageView(ctx, path, title); err != nil {
		s.logger.Warn("pageview emit failed", "path", path, "error", err)
	}
}

// deviceProps enriches an event with coarse device context from the
// User-Agent header. Browser family and platform only, nothing
// fingerprint-grade.
func deviceProps(uaString string, props map[string]any) {
	if uaString == "" {
		return
	}
	ua := useragent.New(uaString)
	browser, _ := ua.Browser()
	if browser != "" {
		props["browser"] = browser
	}
	if os := ua.OS(); os != "" {
		props["os"] = os
	}
	if ua.Mobile() {
		props["platform"] = "mobile"
	} else {
		props["platform"] = "desktop"
	}
}
