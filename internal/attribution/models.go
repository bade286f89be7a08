// Package attribution captures campaign parameters for the life of a
// browser session, gated by analytics consent.
package attribution

import "net/url"

// CaptureVersion is stamped on every stored capture.
const CaptureVersion = "1.0.0"

// KnownKeys are the campaign parameters we collect. Anything else in the
// query string is ignored.
var KnownKeys = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
}

// Params maps UTM keys to values. Only keys present in the landing URL are
// included; a key never appears with an empty value.
type Params map[string]string

// Captured is the session-slot form: the parameters plus capture metadata.
type Captured struct {
	Parameters Params `json:"parameters"`
	CapturedAt string `json:"capturedAt"`
	Version    string `json:"version"`
}

// extract collects the known UTM keys present in a parsed query string.
func extract(query url.Values) Params {
	params := make(Params)
	for _, key := range KnownKeys {
		if v := query.Get(key); v != "" {
			params[key] = v
		}
	}
	return params
}
