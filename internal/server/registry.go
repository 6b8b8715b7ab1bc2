package server

import "sync"

type registryEntry struct {
	handler Handler
	owner   string
}

// registry maps command names to handlers. Writes happen during startup and
// whenever a plugin is hot-loaded, so lookups take the read lock instead of
// assuming a frozen map.
type registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]registryEntry)}
}

func (r *registry) register(name string, h Handler, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registryEntry{handler: h, owner: owner}
}

func (r *registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// removeOwner drops every entry registered under owner and reports how many
// were removed. Entries the owner registered but that were since replaced by
// someone else are left alone.
func (r *registry) removeOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, name)
			removed++
		}
	}
	return removed
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
