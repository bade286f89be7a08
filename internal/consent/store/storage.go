package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"consentd/internal/consent/models"
	"consentd/internal/consent/validation"
	"consentd/internal/sentinel"
	dErrors "consentd/pkg/domain-errors"
)

const keyPrefix = "consent:"

// DefaultRetentionDays is how long a consent decision stays valid before the
// visitor must be asked again.
const DefaultRetentionDays = 365

// Storage serializes consent state to a KV, owning expiry computation and
// legacy-format migration. It is a pass-through durable mirror: during a
// live session the machine's in-memory state is the source of truth.
type Storage struct {
	kv            KV
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures Storage.
type Option func(*Storage)

// WithRetentionDays overrides the retention window used for expiresAt.
func WithRetentionDays(days int) Option {
	return func(s *Storage) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

// WithLogger sets the logger used for silent-fallback reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// New constructs Storage over the given KV.
func New(kv KV, opts ...Option) *Storage {
	s := &Storage{
		kv:            kv,
		retentionDays: DefaultRetentionDays,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetentionDays reports the configured retention window.
func (s *Storage) RetentionDays() int {
	return s.retentionDays
}

// Save writes the state as one JSON blob with expiresAt = now + retention.
// Failures of the underlying write surface as CodeStorage; the caller
// decides whether to surface or swallow.
func (s *Storage) Save(ctx context.Context, visitorID string, state models.State) error {
	record := models.ToStored(state, s.now(), s.retentionDays)
	data, err := json.Marshal(record)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode consent record")
	}
	if err := s.kv.Set(ctx, keyPrefix+visitorID, data); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "write consent record")
	}
	return nil
}

// Load reads the visitor's record. It returns (nil, nil) when no usable
// record exists: absent, expired, or unrecoverably malformed. Records that
// fail strict validation go through a sanitize pass before being given up
// on; a record that survives it comes back normalized with all four
// categories present.
func (s *Storage) Load(ctx context.Context, visitorID string) (*models.State, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+visitorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "read consent record")
	}

	now := s.now()

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		s.logger.Warn("discarding unparseable consent record",
			"visitor_id", visitorID,
			"error", err,
		)
		s.clearSilently(ctx, visitorID)
		return nil, nil
	}

	res := validation.Validate(decoded)
	for _, warning := range res.Warnings {
		s.logger.Warn("consent record inconsistency",
			"visitor_id", visitorID,
			"warning", warning,
		)
	}

	if res.Valid {
		var record models.StoredRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.clearSilently(ctx, visitorID)
			return nil, nil
		}
		if expiresBefore(record.ExpiresAt, now) {
			s.logger.Info("consent record expired", "visitor_id", visitorID)
			s.clearSilently(ctx, visitorID)
			return nil, nil
		}
		state := models.FromStored(record, now)
		return &state, nil
	}

	// Strict validation failed: try to migrate whatever is salvageable.
	obj, ok := decoded.(map[string]any)
	if !ok {
		s.logger.Warn("discarding invalid consent record",
			"visitor_id", visitorID,
			"errors", res.Errors,
		)
		s.clearSilently(ctx, visitorID)
		return nil, nil
	}
	if exp, ok := obj["expiresAt"].(string); ok && expiresBefore(exp, now) {
		s.clearSilently(ctx, visitorID)
		return nil, nil
	}
	state := validation.Sanitize(obj, now)
	s.logger.Info("migrated legacy consent record",
		"visitor_id", visitorID,
		"errors", res.Errors,
	)
	return &state, nil
}

// Clear removes the stored record. Erasure callers that must not block on a
// failing backend wrap this in a best-effort swallow.
func (s *Storage) Clear(ctx context.Context, visitorID string) error {
	if err := s.kv.Delete(ctx, keyPrefix+visitorID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "clear consent record")
	}
	return nil
}

// IsExpired reports whether no valid, non-expired consent exists. "Never
// consented" and "consented but expired" are deliberately merged.
func (s *Storage) IsExpired(ctx context.Context, visitorID string) bool {
	raw, err := s.kv.Get(ctx, keyPrefix+visitorID)
	if err != nil {
		return true
	}
	var record models.StoredRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return true
	}
	expiresAt, err := time.Parse(time.RFC3339, record.ExpiresAt)
	if err != nil {
		return true
	}
	return expiresAt.Before(s.now())
}

func (s *Storage) clearSilently(ctx context.Context, visitorID string) {
	if err := s.kv.Delete(ctx, keyPrefix+visitorID); err != nil {
		s.logger.Warn("failed to clear consent record",
			"visitor_id", visitorID,
			"error", err,
		)
	}
}

func expiresBefore(expiresAt string, now time.Time) bool {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return t.Before(now)
}
