package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Factory instantiates a Completer from configuration.
type Factory func(cfg *Config) (Completer, error)

// Info describes a registered agent without instantiating it.
type Info struct {
	Name     string
	Provider string
	Model    string
}

// Registry manages named agent configurations with lazy instantiation.
// Configs are stored at registration time; completers are created on the
// first Get. Thread-safe for concurrent access.
type Registry struct {
	mu        sync.Mutex
	factory   Factory
	configs   map[string]Config
	instances map[string]Completer
}

// NewRegistry creates an empty Registry that builds completers with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		configs:   make(map[string]Config),
		instances: make(map[string]Completer),
	}
}

// Register adds a named configuration. The completer is not created until
// Get is called.
func (r *Registry) Register(name string, cfg Config) error {
	if name == "" {
		return ErrEmptyAgentName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}

	r.configs[name] = cfg
	return nil
}

// Replace updates the configuration of an existing agent. Any cached
// instance is dropped; the next Get re-instantiates.
func (r *Registry) Replace(name string, cfg Config) error {
	if name == "" {
		return ErrEmptyAgentName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	r.configs[name] = cfg
	delete(r.instances, name)
	return nil
}

// Unregister removes a named agent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	delete(r.configs, name)
	delete(r.instances, name)
	return nil
}

// Get returns the named completer, creating it on first access.
func (r *Registry) Get(name string) (Completer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, registered := r.configs[name]
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	if c, exists := r.instances[name]; exists {
		return c, nil
	}

	if r.factory == nil {
		return nil, ErrNoFactory
	}

	c, err := r.factory(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %q: %w", name, err)
	}

	r.instances[name] = c
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.configs[name]
	return ok
}

// List returns every registered agent, sorted by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.configs))
	for name, cfg := range r.configs {
		infos = append(infos, Info{Name: name, Provider: cfg.Provider, Model: cfg.Model})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}
