package audit

import (
	"time"
)

type EventType string

// Portal events
const (
	EventPortalLoginSucceeded EventType = "portal.login.succeeded"
	EventPortalLoginFailed    EventType = "portal.login.failed"
	EventPortalLogout         EventType = "portal.logout"
	EventPortalCookiePurged   EventType = "portal.cookie.purged"
)

// Gate events
const (
	EventRateLimitExceeded  EventType = "ratelimit.exceeded"
	EventRateLimitReset     EventType = "ratelimit.reset"
	EventSessionInvalidated EventType = "session.invalidated"
	EventCSRFFlagged        EventType = "csrf.flagged"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actor kinds
const (
	KindAdmin     = "admin"
	KindClient    = "client"
	KindAnonymous = "anonymous"
)

// Event is one entry of the audit trail. Details never carries secrets:
// no access codes, cookie values or tokens.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Path      string         `json:"path,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Actor identifies who caused an event. For anonymous requests only the
// client identifier (first X-Forwarded-For entry) is known.
type Actor struct {
	// User is the admin user id or the portal client id
	User      string `json:"user,omitempty"`
	Kind      string `json:"kind"`
	SourceIP  string `json:"sourceIP,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// PartitionKey groups the events of one actor so consumers see them in
// order: the user when known, else the client identifier, else the event id.
func (e *Event) PartitionKey() string {
	switch {
	case e.Actor.User != "":
		return e.Actor.Kind + ":" + e.Actor.User
	case e.Actor.SourceIP != "":
		return "ip:" + e.Actor.SourceIP
	default:
		return e.ID
	}
}

// SeverityForEventType returns the default severity for an event type.
// A purged portal cookie means someone presented a forged or corrupted
// signature.
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventPortalCookiePurged:
		return SeverityCritical
	case EventPortalLoginFailed, EventRateLimitExceeded, EventSessionInvalidated, EventCSRFFlagged:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
