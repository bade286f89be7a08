package models

import "time"

// TimeFormat is the wire format for all persisted timestamps.
const TimeFormat = time.RFC3339Nano

// StoredPreference is the serialized form of a Preference.
type StoredPreference struct {
	Granted   bool   `json:"granted"`
	UpdatedAt string `json:"updatedAt"`
}

// StoredRecord is the durable form of State: same shape with string
// timestamps plus an expiry computed at save time. This is also the GDPR
// access export shape.
type StoredRecord struct {
	Preferences  map[string]StoredPreference `json:"preferences"`
	HasConsented bool                        `json:"hasConsented"`
	ConsentDate  *string                     `json:"consentDate"`
	Version      string                      `json:"version"`
	ShowBanner   bool                        `json:"showBanner"`
	ExpiresAt    string                      `json:"expiresAt"`
}

// ToStored serializes a state for persistence or export. ExpiresAt is
// now + retention.
func ToStored(s State, now time.Time, retentionDays int) StoredRecord {
	prefs := make(map[string]StoredPreference, len(s.Preferences))
	for cat, pref := range s.Preferences {
		prefs[string(cat)] = StoredPreference{
			Granted:   pref.Granted,
			UpdatedAt: pref.UpdatedAt.UTC().Format(TimeFormat),
		}
	}
	var consentDate *string
	if s.ConsentDate != nil {
		d := s.ConsentDate.UTC().Format(TimeFormat)
		consentDate = &d
	}
	return StoredRecord{
		Preferences:  prefs,
		HasConsented: s.HasConsented,
		ConsentDate:  consentDate,
		Version:      s.Version,
		ShowBanner:   s.ShowBanner,
		ExpiresAt:    now.Add(time.Duration(retentionDays) * 24 * time.Hour).UTC().Format(TimeFormat),
	}
}

// FromStored deserializes a record into an in-memory State. Unknown
// categories are dropped, missing ones backfilled, the essential grant
// forced. Unparseable timestamps fall back to now; strict rejection happens
// in validation before this is called.
func FromStored(r StoredRecord, now time.Time) State {
	state := State{
		Preferences:  make(map[Category]Preference, len(AllCategories)),
		HasConsented: r.HasConsented,
		Version:      r.Version,
		ShowBanner:   r.ShowBanner,
	}
	for name, pref := range r.Preferences {
		cat := Category(name)
		if !cat.IsValid() {
			continue
		}
		updatedAt, err := time.Parse(time.RFC3339, pref.UpdatedAt)
		if err != nil {
			updatedAt = now
		}
		state.Preferences[cat] = Preference{Granted: pref.Granted, UpdatedAt: updatedAt}
	}
	if r.ConsentDate != nil {
		if d, err := time.Parse(time.RFC3339, *r.ConsentDate); err == nil {
			state.ConsentDate = &d
		}
	}
	state.Normalize(now)
	return state
}
