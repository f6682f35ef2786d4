// Package auth recognizes admin sessions issued by the hosted auth platform.
// A session is an access token (JWT) carried in a cookie or a bearer header;
// it is verified locally with a shared secret or a JWKS and, when the auth
// platform URL is configured, re-validated remotely on every request.
package auth
