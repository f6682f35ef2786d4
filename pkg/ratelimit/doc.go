// Package ratelimit provides per-client, per-route-bucket request limiting for
// the request gate. The default limiter is an in-memory fixed-window counter
// with a periodic sweep; a Redis-backed fixed window shares counters across
// instances and a token-bucket strategy smooths bursts. All three satisfy the
// same Limiter contract.
//
// The fixed window admits bursts of up to twice the nominal rate around a
// window boundary. That is a known approximation, not a defect; use the token
// bucket strategy when stricter smoothing is required.
package ratelimit
