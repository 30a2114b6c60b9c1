package vectorstore

import "sync"

// Registry hands out one shared Store per graph name. It replaces hidden
// module-level state: the application owns a single Registry for its
// lifetime and passes it to whoever needs a store.
type Registry struct {
	opts []StoreOption

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a registry. The given options apply to every store it
// constructs.
func NewRegistry(opts ...StoreOption) *Registry {
	return &Registry{
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

// Get returns the store for a graph, constructing it on first request.
func (r *Registry) Get(graph string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[graph]; ok {
		return s
	}
	s := NewStore(graph, r.opts...)
	r.stores[graph] = s
	return s
}

// CloseAll closes every store the registry has handed out, returning the
// first error encountered.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
