package models

import "time"

// SchemaVersion is stamped on every persisted consent record. Bump when the
// stored shape changes so Load can route legacy records through migration.
const SchemaVersion = "1.0.0"

// Category labels a group of cookies by the purpose they serve. Essential is
// structurally always granted; every write path enforces that.
type Category string

const (
	CategoryEssential       Category = "essential"
	CategoryAnalytics       Category = "analytics"
	CategoryMarketing       Category = "marketing"
	CategoryPersonalization Category = "personalization"
)

// AllCategories is the single source of truth for the known categories.
// State always carries exactly these four.
var AllCategories = []Category{
	CategoryEssential,
	CategoryAnalytics,
	CategoryMarketing,
	CategoryPersonalization,
}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryEssential, CategoryAnalytics, CategoryMarketing, CategoryPersonalization:
		return true
	}
	return false
}

// Preference is a single category decision. UpdatedAt refreshes on every
// mutation of the category.
type Preference struct {
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// State is the in-memory consent aggregate for one visitor.
//
// Invariants:
//   - Preferences always contains exactly the four known categories.
//   - Preferences[CategoryEssential].Granted is always true.
//   - HasConsented implies ConsentDate is set (violations are logged as
//     warnings on load, not treated as fatal).
type State struct {
	Preferences  map[Category]Preference `json:"preferences"`
	HasConsented bool                    `json:"hasConsented"`
	ConsentDate  *time.Time              `json:"consentDate"`
	Version      string                  `json:"version"`
	ShowBanner   bool                    `json:"showBanner"`
}

// DefaultState is the safe first-visit state: essential granted, everything
// else denied, banner shown, no decision recorded.
func DefaultState(now time.Time) State {
	prefs := make(map[Category]Preference, len(AllCategories))
	for _, cat := range AllCategories {
		prefs[cat] = Preference{Granted: cat == CategoryEssential, UpdatedAt: now}
	}
	return State{
		Preferences:  prefs,
		HasConsented: false,
		ConsentDate:  nil,
		Version:      SchemaVersion,
		ShowBanner:   true,
	}
}

// Clone returns a deep copy so callers can hand out state without exposing
// the machine's internal map.
func (s State) Clone() State {
	out := s
	out.Preferences = make(map[Category]Preference, len(s.Preferences))
	for cat, pref := range s.Preferences {
		out.Preferences[cat] = pref
	}
	if s.ConsentDate != nil {
		d := *s.ConsentDate
		out.ConsentDate = &d
	}
	return out
}

// Normalize backfills missing categories from defaults and forces the
// essential grant. Applied after load and sanitize so every State handed to
// the machine satisfies the invariants.
func (s *State) Normalize(now time.Time) {
	if s.Preferences == nil {
		s.Preferences = make(map[Category]Preference, len(AllCategories))
	}
	for _, cat := range AllCategories {
		if _, ok := s.Preferences[cat]; !ok {
			s.Preferences[cat] = Preference{Granted: cat == CategoryEssential, UpdatedAt: now}
		}
	}
	if pref := s.Preferences[CategoryEssential]; !pref.Granted {
		pref.Granted = true
		s.Preferences[CategoryEssential] = pref
	}
	if s.Version == "" {
		s.Version = SchemaVersion
	}
}

// Granted reports the flag for a category, false for unknown categories.
func (s State) Granted(cat Category) bool {
	return s.Preferences[cat].Granted
}
