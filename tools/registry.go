// Package tools partitions each unit's tools into risk tiers and dispatches
// tool calls to their handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// Handler is the function signature for tool implementations.
// Handlers receive the request context and JSON-encoded arguments from the
// model.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is the tool output that feeds back into the next completion.
// IsError signals to the model that the invocation failed.
type Result struct {
	Content string
	IsError bool
}

// Descriptor binds a tool definition to its tier and handler. Control
// tools carry no handler.
type Descriptor struct {
	Tool    protocol.Tool
	Tier    Tier
	Handler Handler
}

// Name returns the tool name.
func (d Descriptor) Name() string { return d.Tool.Name }

// Registry is the tool set of one unit. It is populated during startup and
// read concurrently afterwards.
type Registry struct {
	owner   string
	entries map[string]Descriptor
	order   []string
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry for the unit named owner.
func NewRegistry(owner string) *Registry {
	return &Registry{
		owner:   owner,
		entries: make(map[string]Descriptor),
	}
}

// Owner returns the unit the registry belongs to.
func (r *Registry) Owner() string { return r.owner }

// Register adds a descriptor. Returns ErrAlreadyExists if the name is taken;
// use Replace to swap an existing entry.
func (r *Registry) Register(d Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.Name()]; exists {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, r.owner, d.Name())
	}

	r.entries[d.Name()] = d
	r.order = append(r.order, d.Name())
	return nil
}

// Replace updates an existing descriptor in place, keeping its position.
// Returns ErrUnregisteredTool if the name is not registered.
func (r *Registry) Replace(d Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.Name()]; !exists {
		return fmt.Errorf("%w: %s/%s", ErrUnregisteredTool, r.owner, d.Name())
	}

	r.entries[d.Name()] = d
	return nil
}

func validate(d Descriptor) error {
	if d.Name() == "" {
		return ErrEmptyName
	}
	switch d.Tier {
	case TierSafe, TierSensitive:
		if d.Name() == Escalate {
			return fmt.Errorf("%w: %s", ErrReservedName, Escalate)
		}
		if d.Handler == nil {
			return fmt.Errorf("%w: %s", ErrNilHandler, d.Name())
		}
	case TierControl:
	default:
		return fmt.Errorf("%w: %q for %s", ErrInvalidTier, d.Tier, d.Name())
	}
	return nil
}

// Get retrieves a descriptor by tool name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.entries[name]
	return d, exists
}

// Classify returns the tier of the named tool, or ErrUnregisteredTool.
func (r *Registry) Classify(name string) (Tier, error) {
	d, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnregisteredTool, r.owner, name)
	}
	return d.Tier, nil
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Clone(r.order)
	slices.Sort(names)
	return names
}

// NamesByTier returns the sorted names of tools in tier.
func (r *Registry) NamesByTier(tier Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range r.order {
		if r.entries[name].Tier == tier {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Tools returns the tool definitions in registration order, as offered to
// the completion service.
func (r *Registry) Tools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].Tool)
	}
	return defs
}

// Execute dispatches a single call to its handler. Handler errors are
// wrapped with the tool name.
func (r *Registry) Execute(ctx context.Context, call protocol.ToolCall) (Result, error) {
	d, ok := r.Get(call.Name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnregisteredTool, r.owner, call.Name)
	}
	if d.Tier == TierControl {
		return Result{}, fmt.Errorf("%w: %s", ErrNotExecutable, call.Name)
	}

	result, err := d.Handler(ctx, call.RawArguments())
	if err != nil {
		return Result{}, fmt.Errorf("tool %s execution failed: %w", call.Name, err)
	}
	return result, nil
}
