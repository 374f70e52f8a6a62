package engine

import "sync"

// TenantLocks is a keyed mutex with lazy creation and weak reclamation:
// spec.md §9 calls for modeling the per-tenant lock this way rather than a
// single global lock. No teacher file has an analogous component — the
// teacher is single-writer and offline — so this is grounded on the nearest
// idiom the pack shows for a concurrent keyed registry:
// store/casregistry/registry.go's sync.RWMutex-guarded map, generalized
// from a fixed set of statically-registered backend names to dynamically
// created per-tenant entries that are removed again once idle.
type TenantLocks struct {
	mu      sync.Mutex
	entries map[string]*tenantEntry
}

type tenantEntry struct {
	mu   sync.Mutex
	refs int
}

// NewTenantLocks returns an empty set of tenant locks.
func NewTenantLocks() *TenantLocks {
	return &TenantLocks{entries: map[string]*tenantEntry{}}
}

// Lock acquires tenant's exclusive lock, blocking until it is available,
// and returns a func that releases it. The entry is created on first use
// and removed again once the last holder releases it, so a tenant that
// stops sending messages does not hold a permanent map slot.
func (t *TenantLocks) Lock(tenant string) func() {
	t.mu.Lock()
	e, ok := t.entries[tenant]
	if !ok {
		e = &tenantEntry{}
		t.entries[tenant] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, tenant)
		}
		t.mu.Unlock()
	}
}
