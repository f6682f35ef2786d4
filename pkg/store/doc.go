// Package store is the persistence boundary of the request pipeline: the
// "does any admin exist" query and the client lookups and token updates used
// by the portal. Postgres is the production implementation; Memory serves
// development mode and tests.
package store
