// Package portal authenticates clients of the self-service portal. A client
// signs in with its tax id and a 6-digit access code; the session is the
// client id signed into the portal_client_id cookie.
package portal
