package machine

import (
	"context"

	"consentd/internal/audit"
	"consentd/internal/consent/models"
)

// Read-optimized accessors layered over the state machine. Pure derivations,
// no extra state.

// HasConsent reports the current grant for a category, false for unknown.
func (m *Machine) HasConsent(cat models.Category) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Granted(cat)
}

// CanTrackAnalytics reports whether analytics tracking is permitted.
func (m *Machine) CanTrackAnalytics() bool {
	return m.HasConsent(models.CategoryAnalytics)
}

// CanTrackMarketing reports whether marketing tracking is permitted.
func (m *Machine) CanTrackMarketing() bool {
	return m.HasConsent(models.CategoryMarketing)
}

// CanPersonalize reports whether personalization is permitted.
func (m *Machine) CanPersonalize() bool {
	return m.HasConsent(models.CategoryPersonalization)
}

// CanUseEssential is always true for a reachable state; exposed for
// symmetry with the other permission accessors.
func (m *Machine) CanUseEssential() bool {
	return m.HasConsent(models.CategoryEssential)
}

// ExportRecord produces a portable consent record for the GDPR right of
// access. Computed from current state at call time, never cached.
func (m *Machine) ExportRecord(ctx context.Context) models.StoredRecord {
	m.mu.Lock()
	state := m.state.Clone()
	now := m.now()
	m.mu.Unlock()

	m.emitAuditWithDecision(ctx, Event{
		VisitorID: m.visitorID,
		Action:    audit.ActionRecordExported,
		Time:      now,
	}, audit.DecisionNone)

	return models.ToStored(state, now, m.storage.RetentionDays())
}

// DeleteRecord is the erasure flow: best-effort clear of the stored record
// and the audit trail, then a reset to fresh defaults. It must never fail;
// a failing storage clear is logged and the in-memory reset proceeds.
func (m *Machine) DeleteRecord(ctx context.Context) {
	if err := m.storage.Clear(ctx, m.visitorID); err != nil {
		m.logger.Warn("consent erasure: storage clear failed",
			"visitor_id", m.visitorID,
			"error", err,
		)
	}
	if m.auditor != nil {
		if err := m.auditor.Erase(ctx, m.visitorID); err != nil {
			m.logger.Warn("consent erasure: audit trail delete failed",
				"visitor_id", m.visitorID,
				"error", err,
			)
		}
	}

	m.Reset(ctx)

	m.emitAuditWithDecision(ctx, Event{
		VisitorID: m.visitorID,
		Action:    audit.ActionRecordErased,
		Time:      m.now(),
	}, audit.DecisionErased)
}
