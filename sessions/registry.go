package sessions

import "sync"

// Registry is the authoritative mapping of tenant ID to live session. It is
// constructor-injected rather than process-global so multiple orchestrators
// can coexist in one process (tests, sharded deployments). Only the
// Orchestrator mutates it; reads are safe concurrently with mutation.
type Registry struct {
	mu       sync.RWMutex
	byTenant map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byTenant: make(map[string]*Session)}
}

func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTenant[tenantID]
	return s, ok
}

func (r *Registry) Set(tenantID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTenant[tenantID] = s
}

func (r *Registry) Delete(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTenant, tenantID)
}

// DeleteIf removes the entry only when it still holds s, so a stale cleanup
// can never evict a newer session that reclaimed the tenant slot.
func (r *Registry) DeleteIf(tenantID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byTenant[tenantID]; ok && cur == s {
		delete(r.byTenant, tenantID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTenant)
}
