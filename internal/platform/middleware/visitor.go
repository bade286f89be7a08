package middleware

import (
	"context"
	"net/http"
)

// Visitor identification. The frontend attaches a stable visitor ID (the
// anonymous ID it mints on first load) and a per-tab session ID to every
// call. Neither identifies a person; both are opaque strings to us.
const (
	headerVisitorID = "X-Visitor-ID"
	headerSessionID = "X-Session-ID"
	visitorCookie   = "cid"
)

type visitorIDKey struct{}
type sessionIDKey struct{}

// Identity extracts the visitor and session IDs into the request context.
// Falls back to the cid cookie for the visitor ID when the header is absent.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID := r.Header.Get(headerVisitorID)
		if visitorID == "" {
			if c, err := r.Cookie(visitorCookie); err == nil {
				visitorID = c.Value
			}
		}
		ctx := r.Context()
		if visitorID != "" {
			ctx = context.WithValue(ctx, visitorIDKey{}, visitorID)
		}
		if sessionID := r.Header.Get(headerSessionID); sessionID != "" {
			ctx = context.WithValue(ctx, sessionIDKey{}, sessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetVisitorID retrieves the visitor ID from the context.
func GetVisitorID(ctx context.Context) string {
	if id, ok := ctx.Value(visitorIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
