// Package token implements the signed cookie value used as the portal session
// identifier: an opaque value followed by a truncated HMAC tag. The scheme
// provides integrity only; the value itself is readable by the cookie holder.
package token
