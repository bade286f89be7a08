// Package validation checks and repairs persisted consent records.
//
// Validate is strict and reports what is wrong; Sanitize never fails and
// rebuilds the best state it can from whatever survives. Both are pure.
package validation

import (
	"fmt"
	"time"

	"consentd/internal/consent/models"
)

// Result carries the outcome of a strict validation pass. Warnings flag
// suspicious but non-fatal conditions; any error makes the record invalid.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks an arbitrary decoded JSON value claiming to be a stored
// consent record. It never mutates its input.
func Validate(raw any) Result {
	var res Result

	record, ok := raw.(map[string]any)
	if !ok {
		res.addError("record is not an object")
		return res
	}

	prefsRaw, hasPrefs := record["preferences"]
	if !hasPrefs {
		res.addError("missing required field: preferences")
	} else if prefs, ok := prefsRaw.(map[string]any); !ok {
		res.addError("preferences is not an object")
	} else {
		validatePreferences(prefs, &res)
	}

	hasConsented := false
	if v, ok := record["hasConsented"]; !ok {
		res.addError("missing required field: hasConsented")
	} else if b, ok := v.(bool); !ok {
		res.addError("hasConsented is not a boolean")
	} else {
		hasConsented = b
	}

	if v, ok := record["version"]; !ok {
		res.addError("missing required field: version")
	} else if _, ok := v.(string); !ok {
		res.addError("version is not a string")
	}

	if v, ok := record["showBanner"]; !ok {
		res.addError("missing required field: showBanner")
	} else if _, ok := v.(bool); !ok {
		res.addError("showBanner is not a boolean")
	}

	expiresAt, hasExpiresAt := record["expiresAt"]
	consentDate, hasConsentDate := dateField(record, "consentDate")
	if !hasExpiresAt && !hasConsentDate {
		// Stored records carry expiresAt; in-memory exports carry at least
		// a consent date. A record with neither cannot be aged out.
		res.addError("missing required field: expiresAt")
	}
	if hasExpiresAt && !parseableDate(expiresAt) {
		res.addError("expiresAt is not a valid date")
	}
	if hasConsentDate && consentDate != nil && !parseableDate(consentDate) {
		res.addError("consentDate is not a valid date")
	}

	// Logical consistency checks. These are warnings: the record is still
	// usable, but something upstream produced a contradictory write.
	if hasConsented && (consentDate == nil || !hasConsentDate) {
		res.addWarning("hasConsented is true but consentDate is not set")
	}
	if !hasConsented && hasConsentDate && consentDate != nil {
		res.addWarning("consentDate is set but hasConsented is false")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func validatePreferences(prefs map[string]any, res *Result) {
	for name, prefRaw := range prefs {
		if !models.Category(name).IsValid() {
			res.addWarning("unknown consent category: %s", name)
			continue
		}
		pref, ok := prefRaw.(map[string]any)
		if !ok {
			res.addError("preference %s is not an object", name)
			continue
		}
		granted, ok := pref["granted"].(bool)
		if !ok {
			res.addError("preference %s: granted is not a boolean", name)
		}
		if updatedAt, present := pref["updatedAt"]; present && !parseableDate(updatedAt) {
			res.addError("preference %s: updatedAt is not a valid date", name)
		}
		if name == string(models.CategoryEssential) && ok && !granted {
			res.addWarning("essential category is marked as not granted")
		}
	}
}

// Sanitize reconstructs a best-effort valid State from arbitrary input,
// salvaging well-typed fields and defaulting the rest. It never fails, and
// it unconditionally forces the essential grant at the end.
func Sanitize(raw any, now time.Time) models.State {
	state := models.DefaultState(now)

	record, ok := raw.(map[string]any)
	if !ok {
		return state
	}

	if b, ok := record["hasConsented"].(bool); ok {
		state.HasConsented = b
	}
	if s, ok := record["version"].(string); ok && s != "" {
		state.Version = s
	}
	if b, ok := record["showBanner"].(bool); ok {
		state.ShowBanner = b
	}
	if v, present := dateField(record, "consentDate"); present && v != nil {
		if t, ok := parseDate(v); ok {
			state.ConsentDate = &t
		}
	}

	if prefs, ok := record["preferences"].(map[string]any); ok {
		for name, prefRaw := range prefs {
			cat := models.Category(name)
			if !cat.IsValid() {
				continue
			}
			pref, ok := prefRaw.(map[string]any)
			if !ok {
				continue
			}
			granted, ok := pref["granted"].(bool)
			if !ok {
				continue
			}
			updatedAt := now
			if t, ok := parseDate(pref["updatedAt"]); ok {
				updatedAt = t
			}
			state.Preferences[cat] = models.Preference{Granted: granted, UpdatedAt: updatedAt}
		}
	}

	state.Normalize(now)
	return state
}

// dateField distinguishes a field that is absent from one that is present
// but null, since both are legal for consentDate.
func dateField(record map[string]any, key string) (any, bool) {
	v, ok := record[key]
	if !ok {
		return nil, false
	}
	return v, true
}

func parseableDate(v any) bool {
	_, ok := parseDate(v)
	return ok
}

func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
