package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"consentd/internal/sentinel"
	dErrors "consentd/pkg/domain-errors"
)

// ConsentGate answers whether analytics tracking is permitted for a
// visitor. Implemented by the consent machine registry.
type ConsentGate interface {
	CanTrackAnalytics(ctx context.Context, visitorID string) bool
}

// Service implements session-scoped UTM capture with a last-campaign-wins
// overwrite policy. The consent gate is hard: when analytics consent is not
// granted, Capture performs no session read or write at all, and Retrieve
// returns nothing even if data is physically present.
type Service struct {
	store  SessionStore
	gate   ConsentGate
	logger *slog.Logger
	now    func() time.Time
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

// NewService constructs the attribution service.
func NewService(store SessionStore, gate ConsentGate, opts ...Option) *Service {
	s := &Service{
		store:  store,
		gate:   gate,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture reads the landing URL's query string and stores the UTM set for
// the session. Returns nil without touching the slot when consent is
// denied or when the URL carries no UTM keys; an existing capture survives
// a UTM-less landing. A landing with at least one UTM key overwrites the
// whole slot.
func (s *Service) Capture(ctx context.Context, visitorID, sessionID, rawURL string) (Params, error) {
	if !s.gate.CanTrackAnalytics(ctx, visitorID) {
		return nil, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid landing URL")
	}
	params := extract(parsed.Query())
	if len(params) == 0 {
		return nil, nil
	}

	captured := Captured{
		Parameters: params,
		CapturedAt: s.now().UTC().Format(time.RFC3339Nano),
		Version:    CaptureVersion,
	}
	data, err := json.Marshal(captured)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode attribution")
	}
	if err := s.store.Set(ctx, sessionID, data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "write attribution")
	}
	return params, nil
}

// Retrieve returns the session's UTM parameters, or nil when consent is
// denied, the slot is empty, or the slot contents are invalid (which also
// deletes them). Capture metadata is stripped.
func (s *Service) Retrieve(ctx context.Context, visitorID, sessionID string) Params {
	if !s.gate.CanTrackAnalytics(ctx, visitorID) {
		return nil
	}

	captured, ok := s.read(ctx, sessionID)
	if !ok {
		return nil
	}
	return captured.Parameters
}

// HasParameters reports whether Retrieve would return a non-empty set.
func (s *Service) HasParameters(ctx context.Context, visitorID, sessionID string) bool {
	return len(s.Retrieve(ctx, visitorID, sessionID)) > 0
}

// Clear unconditionally removes the session slot, best effort.
func (s *Service) Clear(ctx context.Context, sessionID string) {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to clear attribution slot",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// CapturedAt returns the raw capture timestamp without consulting the
// consent gate. Time-to-conversion is computed even for consent-denied
// sessions so denied flows remain diagnosable; see the tracking service.
func (s *Service) CapturedAt(ctx context.Context, sessionID string) (time.Time, bool) {
	raw, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return time.Time{}, false
	}
	var captured Captured
	if err := json.Unmarshal(raw, &captured); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, captured.CapturedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// read loads and decodes the slot, deleting it when structurally invalid.
func (s *Service) read(ctx context.Context, sessionID string) (Captured, bool) {
	raw, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.Warn("failed to read attribution slot",
				"session_id", sessionID,
				"error", err,
			)
		}
		return Captured{}, false
	}

	var captured Captured
	if err := json.Unmarshal(raw, &captured); err != nil || len(captured.Parameters) == 0 {
		s.logger.Warn("deleting invalid attribution slot", "session_id", sessionID)
		s.Clear(ctx, sessionID)
		return Captured{}, false
	}
	return captured, true
}
