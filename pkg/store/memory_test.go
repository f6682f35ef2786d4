package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	exists, err := m.AnyAdminExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	m.AddAdmin()
	exists, err = m.AnyAdminExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	m.PutClient(Client{ID: "c1", TaxID: "203.189.515-52", Status: StatusActive})

	c, err := m.ClientByTaxID(ctx, "20318951552")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	_, err = m.ClientByTaxID(ctx, "11111111111")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetPortalToken(ctx, "c1", "203189"))
	c, err = m.ClientByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "203189", c.PortalToken)

	assert.ErrorIs(t, m.SetPortalToken(ctx, "missing", "1"), ErrNotFound)

	m.Err = errors.New("down")
	_, err = m.ClientByID(ctx, "c1")
	assert.Error(t, err)
}

func TestClientPortalAllowed(t *testing.T) {
	for status, want := range map[ClientStatus]bool{
		StatusActive:           true,
		StatusPendingAgreement: true,
		StatusInactive:         false,
		StatusBlocked:          false,
		"":                     false,
	} {
		assert.Equal(t, want, Client{Status: status}.PortalAllowed(), string(status))
	}
}
