package inference

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry loads each model path once and shares the engine between
// callers. Failed loads are not cached.
type Registry struct {
	opts  []Option
	group singleflight.Group

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates a Registry that passes opts to every Load.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for path, loading it on first use. Concurrent
// callers for the same path share a single load.
func (r *Registry) Get(path string) (*Engine, error) {
	r.mu.RLock()
	eng, ok := r.engines[path]
	r.mu.RUnlock()
	if ok {
		return eng, nil
	}

	v, err, _ := r.group.Do(path, func() (any, error) {
		r.mu.RLock()
		eng, ok := r.engines[path]
		r.mu.RUnlock()
		if ok {
			return eng, nil
		}
		eng, err := Load(path, r.opts...)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.engines[path] = eng
		r.mu.Unlock()
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Len returns the number of loaded engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
