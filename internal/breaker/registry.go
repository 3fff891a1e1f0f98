package breaker

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per provider name, creating breakers
// lazily with shared settings. Failure isolation is per provider: the
// secondary provider keeps serving while the primary's breaker is open.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     Options
}

// NewRegistry creates a registry whose breakers share opts; each breaker
// gets its provider name as Options.Name.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// For returns the breaker for the named provider, creating it on first use.
func (r *Registry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	opts := r.opts
	opts.Name = name
	b := New(opts)
	r.breakers[name] = b
	return b
}

// Snapshots returns every known breaker's snapshot, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
