package audit

import "time"

// Event actions for consent transitions.
const (
	ActionConsentUpdated  = "consent_updated"
	ActionAcceptAll       = "consent_accept_all"
	ActionRejectAll       = "consent_reject_all"
	ActionConsentReset    = "consent_reset"
	ActionBannerDismissed = "banner_dismissed"
	ActionRecordExported  = "record_exported"
	ActionRecordErased    = "record_erased"
)

// Event decisions.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
	DecisionErased  = "erased"
	DecisionNone    = "none"
)

// Event reasons.
const (
	ReasonUserInitiated = "user_initiated"
)

// Event is emitted from domain logic to capture key consent actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	VisitorID string
	Action    string
	Category  string
	Decision  string
	Reason    string
	RequestID string
}
