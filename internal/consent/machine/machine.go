// Package machine holds the consent state machine: a reducer over a
// visitor's consent state, persisting every committed transition and fanning
// out to audit and observers.
package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"consentd/internal/audit"
	"consentd/internal/consent/metrics"
	"consentd/internal/consent/models"
	"consentd/internal/consent/store"
	dErrors "consentd/pkg/domain-errors"
)

// Event describes a committed state transition. Delivered to observers after
// persistence; Category is empty for whole-state actions.
type Event struct {
	VisitorID string
	Action    string
	Category  models.Category
	Granted   bool
	Time      time.Time
}

// Observer receives committed transitions. Observers are invoked
// synchronously, each wrapped in its own error boundary: a panicking
// observer is logged and must never block persistence or other observers.
type Observer func(Event)

// Machine is the single owner and mutator of one visitor's consent state.
// Readers go through it rather than hitting Storage mid-session; Storage is
// a durable mirror, not a second source of truth.
type Machine struct {
	mu        sync.Mutex
	initOnce  sync.Once
	visitorID string
	state     models.State
	storage   *store.Storage
	auditor   *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithAuditor attaches the audit publisher.
func WithAuditor(a *audit.Publisher) Option {
	return func(m *Machine) { m.auditor = a }
}

// WithMetrics attaches consent metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// New constructs a machine for one visitor. Call Initialize before use.
func New(visitorID string, storage *store.Storage, opts ...Option) *Machine {
	m := &Machine{
		visitorID: visitorID,
		storage:   storage,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = models.DefaultState(m.now())
	return m
}

// Subscribe registers an observer after construction.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Initialize replaces state wholesale from storage, or with defaults when no
// usable record exists. Load failures degrade to defaults rather than
// propagate: the worst case is the banner showing again. Does not persist.
func (m *Machine) Initialize(ctx context.Context) {
	start := time.Now()
	loaded, err := m.storage.Load(ctx, m.visitorID)
	if m.metrics != nil {
		m.metrics.ObserveStorageLatency("load", time.Since(start).Seconds())
	}
	if err != nil {
		m.logger.Warn("consent load failed, using defaults",
			"visitor_id", m.visitorID,
			"error", err,
		)
		loaded = nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if loaded != nil {
		m.state = *loaded
	} else {
		m.state = models.DefaultState(m.now())
	}
}

// State returns a copy of the current state.
func (m *Machine) State() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// UpdateConsent sets one category's grant, refreshing its timestamp and
// recording the first-consent date. Denying essential is a no-op on the
// flag: the preference still gets a fresh timestamp but stays granted.
func (m *Machine) UpdateConsent(ctx context.Context, cat models.Category, granted bool) error {
	return m.UpdateMultiple(ctx, map[models.Category]bool{cat: granted})
}

// UpdateMultiple applies several category updates as one persisted
// transition. Partial maps leave unnamed categories untouched.
func (m *Machine) UpdateMultiple(ctx context.Context, updates map[models.Category]bool) error {
	if len(updates) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "no categories to update")
	}
	for cat := range updates {
		if !cat.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid consent category: %s", cat))
		}
	}

	m.mu.Lock()
	now := m.now()
	var events []Event
	for cat, granted := range updates {
		if cat == models.CategoryEssential {
			granted = true
		}
		m.state.Preferences[cat] = models.Preference{Granted: granted, UpdatedAt: now}
		events = append(events, Event{
			VisitorID: m.visitorID,
			Action:    audit.ActionConsentUpdated,
			Category:  cat,
			Granted:   granted,
			Time:      now,
		})
	}
	m.state.HasConsented = true
	if m.state.ConsentDate == nil {
		// First-consent timestamp is immutable thereafter.
		m.state.ConsentDate = &now
	}
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	for _, ev := range events {
		if m.metrics != nil {
			if ev.Granted {
				m.metrics.IncrementGranted(string(ev.Category))
			} else {
				m.metrics.IncrementRevoked(string(ev.Category))
			}
		}
		m.emitAudit(ctx, ev)
		m.notify(ev)
	}
	return nil
}

// AcceptAll grants every category in one atomic update and hides the banner.
func (m *Machine) AcceptAll(ctx context.Context) error {
	return m.decideAll(ctx, true)
}

// RejectAll denies every non-essential category in one atomic update and
// hides the banner. Essential stays granted.
func (m *Machine) RejectAll(ctx context.Context) error {
	return m.decideAll(ctx, false)
}

func (m *Machine) decideAll(ctx context.Context, granted bool) error {
	m.mu.Lock()
	now := m.now()
	for _, cat := range models.AllCategories {
		g := granted || cat == models.CategoryEssential
		m.state.Preferences[cat] = models.Preference{Granted: g, UpdatedAt: now}
	}
	m.state.HasConsented = true
	m.state.ShowBanner = false
	if m.state.ConsentDate == nil {
		m.state.ConsentDate = &now
	}
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	action := audit.ActionAcceptAll
	decision := audit.DecisionGranted
	if !granted {
		action = audit.ActionRejectAll
		decision = audit.DecisionDenied
	}
	if m.metrics != nil {
		if granted {
			m.metrics.AcceptAllTotal.Inc()
		} else {
			m.metrics.RejectAllTotal.Inc()
		}
	}
	ev := Event{VisitorID: m.visitorID, Action: action, Granted: granted, Time: now}
	m.emitAuditWithDecision(ctx, ev, decision)
	m.notify(ev)
	return nil
}

// Reset replaces state with fresh defaults and re-shows the banner. It does
// not persist: the erasure flow pairs it with Storage.Clear, and writing a
// default record back would defeat the deletion.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	m.state = models.DefaultState(now)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ResetsTotal.Inc()
	}
	ev := Event{VisitorID: m.visitorID, Action: audit.ActionConsentReset, Time: now}
	m.emitAuditWithDecision(ctx, ev, audit.DecisionNone)
	m.notify(ev)
}

// HideBanner hides the banner without recording a decision. A visitor can
// dismiss without ever granting or denying, leaving HasConsented false while
// ShowBanner is false.
func (m *Machine) HideBanner(ctx context.Context) error {
	m.mu.Lock()
	now := m.now()
	m.state.ShowBanner = false
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.BannersDismissed.Inc()
	}
	ev := Event{VisitorID: m.visitorID, Action: audit.ActionBannerDismissed, Time: now}
	m.emitAuditWithDecision(ctx, ev, audit.DecisionNone)
	m.notify(ev)
	return nil
}

// SetHasConsented overrides the consent flag directly. Kept for provider
// parity; normal flows go through the update operations.
func (m *Machine) SetHasConsented(ctx context.Context, consented bool) error {
	m.mu.Lock()
	m.state.HasConsented = consented
	if consented && m.state.ConsentDate == nil {
		now := m.now()
		m.state.ConsentDate = &now
	}
	err := m.persistLocked(ctx)
	m.mu.Unlock()
	return err
}

// persistLocked saves the current state. Callers hold the mutex.
func (m *Machine) persistLocked(ctx context.Context) error {
	start := time.Now()
	err := m.storage.Save(ctx, m.visitorID, m.state)
	if m.metrics != nil {
		m.metrics.ObserveStorageLatency("save", time.Since(start).Seconds())
	}
	return err
}

func (m *Machine) emitAudit(ctx context.Context, ev Event) {
	decision := audit.DecisionDenied
	if ev.Granted {
		decision = audit.DecisionGranted
	}
	m.emitAuditWithDecision(ctx, ev, decision)
}

func (m *Machine) emitAuditWithDecision(ctx context.Context, ev Event, decision string) {
	if m.auditor == nil {
		return
	}
	err := m.auditor.Emit(ctx, audit.Event{
		Timestamp: ev.Time,
		VisitorID: ev.VisitorID,
		Action:    ev.Action,
		Category:  string(ev.Category),
		Decision:  decision,
		Reason:    audit.ReasonUserInitiated,
	})
	if err != nil {
		m.logger.Warn("audit emit failed",
			"visitor_id", ev.VisitorID,
			"action", ev.Action,
			"error", err,
		)
	}
}

// notify invokes observers one by one, each inside its own recover so a
// broken observer cannot take down the others.
func (m *Machine) notify(ev Event) {
	m.mu.Lock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("consent observer panicked",
						"visitor_id", ev.VisitorID,
						"action", ev.Action,
						"panic", r,
					)
				}
			}()
			o(ev)
		}()
	}
}
