package store

import (
	"context"
	"sync"
)

// Memory keeps clients in a map. It is used when no database is configured
// in development mode.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]Client
	admins  int
	// Err, when set, is returned by every call
	Err error
}

func NewMemory() *Memory {
	return &Memory{clients: make(map[string]Client)}
}

// PutClient inserts or replaces a client.
func (m *Memory) PutClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

// AddAdmin registers one admin user.
func (m *Memory) AddAdmin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins++
}

func (m *Memory) AnyAdminExists(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.admins > 0, nil
}

func (m *Memory) ClientByID(_ context.Context, id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ClientByTaxID(_ context.Context, taxID string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	want := digits(taxID)
	for _, c := range m.clients {
		if digits(c.TaxID) == want {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetPortalToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.PortalToken = token
	m.clients[id] = c
	return nil
}

func (m *Memory) Close() {}
