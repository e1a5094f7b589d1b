package catalog

import "sync"

// Registry maps session tokens to their controllers.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Get returns the controller for a token.
func (r *Registry) Get(token string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[token]
	return c, ok
}

// Put registers a controller under a token.
func (r *Registry) Put(token string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[token] = c
}

// Drop removes the controller for a token.
func (r *Registry) Drop(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, token)
}
