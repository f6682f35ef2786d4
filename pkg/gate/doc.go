// Package gate implements the request gate every inbound request passes
// before reaching a handler. In order, it attaches security headers, applies
// the per-bucket rate limit, flags cross-origin mutating requests and branches
// on authentication state (first run, signup, login, admin landing).
package gate
