package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the lifecycle of the registered plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	started []string
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger.Named("plugins"),
	}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("plugin registered", zap.String("name", name))
	return nil
}

// StartAll starts plugins in registration order. When one fails, the ones
// already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	for _, name := range r.order {
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			r.mu.Unlock()
			r.StopAll()
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	r.mu.Unlock()
	return nil
}

// StopAll stops started plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	started := r.started
	r.started = nil
	r.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns the plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every plugin keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]Route)
	for _, name := range r.order {
		if pr := r.plugins[name].Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}
