// Package credstore persists per-tenant transport credential state so that a
// reconnecting session can resume its pairing instead of demanding a fresh
// QR scan. The blobs are opaque to the gateway; the transport owns their
// encoding.
package credstore

import (
	"context"
	"errors"
	"sync"
)

// ErrBadTenantID is returned when a tenant identifier cannot be used as a
// storage key (empty, or containing path metacharacters).
var ErrBadTenantID = errors.New("tenant id not usable as credential key")

// Store persists opaque credential-state blobs keyed by tenant.
type Store interface {
	// Save replaces the tenant's credential state.
	Save(ctx context.Context, tenantID string, state []byte) error

	// Load returns the tenant's credential state, or (nil, nil) when the
	// tenant has never paired.
	Load(ctx context.Context, tenantID string) ([]byte, error)

	// Delete removes the tenant's credential state. Deleting an absent
	// entry is not an error.
	Delete(ctx context.Context, tenantID string) error
}

// Memory is an in-memory Store for tests and ephemeral deployments.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, tenantID string, state []byte) error {
	if tenantID == "" {
		return ErrBadTenantID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[tenantID] = append([]byte(nil), state...)
	return nil
}

func (m *Memory) Load(ctx context.Context, tenantID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[tenantID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Delete(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, tenantID)
	return nil
}
