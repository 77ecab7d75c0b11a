package tools

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// Binding is a tool implementation before a tier is assigned to it.
type Binding struct {
	Tool    protocol.Tool
	Handler Handler
}

// Toolbox holds every tool implementation available to the process. The
// specialist catalogue selects tools from it and assigns their tiers.
type Toolbox struct {
	bindings map[string]Binding
	mu       sync.RWMutex
}

// NewToolbox creates an empty Toolbox.
func NewToolbox() *Toolbox {
	return &Toolbox{bindings: make(map[string]Binding)}
}

// Provide adds an implementation. Returns ErrAlreadyExists for duplicates.
func (b *Toolbox) Provide(tool protocol.Tool, handler Handler) error {
	if tool.Name == "" {
		return ErrEmptyName
	}
	if tool.Name == Escalate {
		return fmt.Errorf("%w: %s", ErrReservedName, Escalate)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, tool.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.bindings[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, tool.Name)
	}
	b.bindings[tool.Name] = Binding{Tool: tool, Handler: handler}
	return nil
}

// Lookup returns the implementation for name.
func (b *Toolbox) Lookup(name string) (Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	binding, ok := b.bindings[name]
	return binding, ok
}

// Bind returns a descriptor for name in the given tier.
func (b *Toolbox) Bind(name string, tier Tier) (Descriptor, error) {
	binding, ok := b.Lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnregisteredTool, name)
	}
	return Descriptor{Tool: binding.Tool, Tier: tier, Handler: binding.Handler}, nil
}

// Names returns all provided tool names, sorted.
func (b *Toolbox) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.bindings))
	for name := range b.bindings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
