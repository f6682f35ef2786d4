// Package audit records security relevant decisions of the request gate and
// the portal (logins, logouts, rate limit denials, invalidated sessions) and
// ships them asynchronously to one or more sinks.
package audit
