package tracking

// PageContext is the page the conversion happened on, as reported by the
// frontend.
type PageContext struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
}

// ConversionRequest carries everything the frontend knows about a
// conversion click. UTM entries here are explicit overrides and win
// key-by-key over the stored session attribution.
type ConversionRequest struct {
	VisitorID   string
	SessionID   string
	CTA         string
	Location    string
	PageVariant string
	Label       string
	Destination string
	UTM         map[string]string
	Page        PageContext
	UserAgent   string
}

// CTARequest is the simple, non-ad conversion path: no session lookup, no
// time-to-conversion, only explicitly supplied UTM keys.
type CTARequest struct {
	CTA         string
	Destination string
	UTM         map[string]string
}
