package portpool

import (
	"fmt"
	"sync"

	"github.com/corviddb/corvid-go/internal/address"
)

// Registry maps server addresses to their Pool, creating entries lazily on
// first use and sharing one Options across every Pool it creates.
// Double-checked locking under a single RWMutex keeps registration
// idempotent without holding the write lock on the common read path.
type Registry struct {
	mu     sync.RWMutex
	pools  map[address.ServerAddress]*Pool
	opts   Options
	closed bool
}

// NewRegistry constructs a Registry that creates every Pool with opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		pools: make(map[address.ServerAddress]*Pool),
		opts:  opts,
	}
}

// Get returns the Pool for addr, creating it on first request.
func (r *Registry) Get(addr address.ServerAddress) (*Pool, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("portpool: registry is closed")
	}
	if p, ok := r.pools[addr]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("portpool: registry is closed")
	}
	if p, ok := r.pools[addr]; ok {
		return p, nil
	}
	p := New(addr, r.opts)
	r.pools[addr] = p
	return p, nil
}

// Addresses returns every address currently registered.
func (r *Registry) Addresses() []address.ServerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]address.ServerAddress, 0, len(r.pools))
	for a := range r.pools {
		out = append(out, a)
	}
	return out
}

// Close closes every pool in the registry and marks it closed; further Get
// calls fail with an error.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, p := range r.pools {
		p.Close()
	}
}
