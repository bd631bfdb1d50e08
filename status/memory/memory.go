// Package memory provides an in-memory status.Store used in tests and
// single-process deployments where durability across restarts is not needed.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wirebind/sessiond/status"
)

// Store implements status.Store with a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	rows map[string]status.Record
}

func New() *Store {
	return &Store{rows: make(map[string]status.Record)}
}

func (s *Store) SetStatus(ctx context.Context, tenantID, value string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tenantID] = status.Record{TenantID: tenantID, Value: value, UpdatedAt: updatedAt}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, tenantID string) (*status.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[tenantID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *Store) ClearStatus(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, tenantID)
	return nil
}
