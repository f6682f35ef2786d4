package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

type ClientStatus string

const (
	StatusActive           ClientStatus = "active"
	StatusPendingAgreement ClientStatus = "pending_agreement"
	StatusInactive         ClientStatus = "inactive"
	StatusBlocked          ClientStatus = "blocked"
)

// Client is the subset of a client record the portal needs.
type Client struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	TaxID  string       `json:"taxId"`
	Email  string       `json:"email,omitempty"`
	Status ClientStatus `json:"status"`
	// PortalToken is the 6-digit portal access code; empty until provisioned
	PortalToken string `json:"-"`
}

// PortalAllowed reports whether the client may sign in to the portal.
func (c Client) PortalAllowed() bool {
	return c.Status == StatusActive || c.Status == StatusPendingAgreement
}

// AdminDirectory answers whether the back office has been set up.
type AdminDirectory interface {
	AnyAdminExists(ctx context.Context) (bool, error)
}

// Clients is the client persistence used by the portal.
type Clients interface {
	ClientByID(ctx context.Context, id string) (*Client, error)
	// ClientByTaxID matches on the digits of the stored tax id
	ClientByTaxID(ctx context.Context, taxID string) (*Client, error)
	SetPortalToken(ctx context.Context, id, token string) error
}

// Store combines both collaborators.
type Store interface {
	AdminDirectory
	Clients
	Close()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
