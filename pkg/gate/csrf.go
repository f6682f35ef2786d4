package gate

import (
	"net/http"
	"net/url"
	"strings"
)

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// originOf returns scheme://host of a URL, or "" when it has neither.
func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// sameOrigin looks for evidence that a mutating request was issued by the
// application itself: an Origin matching the base URL or the requested host,
// a Referer on the base URL, or a CSRF token header.
func (g *Gate) sameOrigin(r *http.Request) bool {
	if strings.TrimSpace(r.Header.Get(HeaderCSRFToken)) != "" {
		return true
	}
	if origin := originOf(r.Header.Get("Origin")); origin != "" {
		if origin == g.baseOrigin {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
	}
	if referer := originOf(r.Referer()); referer != "" && referer == g.baseOrigin {
		return true
	}
	return false
}
