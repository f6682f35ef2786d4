package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient is the identifier used when a request carries no
// X-Forwarded-For header. All such requests share one counter.
const UnknownClient = "unknown"

// ClientIdentifier returns the first X-Forwarded-For entry, or UnknownClient.
// The application is expected to run behind a proxy that sets the header.
func ClientIdentifier(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return UnknownClient
	}
	first, _, _ := strings.Cut(xff, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return UnknownClient
}
