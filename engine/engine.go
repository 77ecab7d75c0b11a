// Package engine implements the routing and approval FSM that moves a
// conversation between the primary router and its specialists.
//
// The engine initializes from configuration via New; functional options
// override any subsystem. Specialists are built by the caller and passed in
// with WithSpecialists.
//
//	e, err := engine.New(cfg, engine.WithSpecialists(set))
//	out, err := e.Submit(ctx, threadID, "raise a dispute on 0x1", md)
//	if out.Suspended() {
//		out, err = e.Resume(ctx, threadID, engine.Approve())
//	}
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tailored-agentic-units/dispatch/agent"
	"github.com/tailored-agentic-units/dispatch/agent/providers"
	"github.com/tailored-agentic-units/dispatch/checkpoint"
	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/session"
	"github.com/tailored-agentic-units/dispatch/specialist"
)

// DefaultAgent is the agent registry name of the completer used by units
// that do not name their own.
const DefaultAgent = "default"

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithCompleter overrides the default completer. Units that name an agent
// still resolve it through the agent registry.
func WithCompleter(c agent.Completer) Option {
	return func(e *Engine) { e.completer = c }
}

// WithAgents overrides the config-created agent registry.
func WithAgents(r *agent.Registry) Option {
	return func(e *Engine) { e.agents = r }
}

// WithSpecialists sets the router and specialists. Required.
func WithSpecialists(s *specialist.Set) Option {
	return func(e *Engine) { e.specialists = s }
}

// WithStore overrides the config-created checkpoint store.
func WithStore(s checkpoint.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver overrides the config-selected observer.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the time source used for personas and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine drives threads through the routing FSM. Safe for concurrent use:
// calls for one thread are serialized, distinct threads run in parallel.
type Engine struct {
	specialists *specialist.Set
	agents      *agent.Registry
	completer   agent.Completer
	store       checkpoint.Store
	closer      io.Closer
	observer    observability.Observer
	locks       *threadLocks
	now         func() time.Time

	maxSteps        int
	retries         int
	maxCorrections  int
	keepCorrections bool
	toolConcurrency int
}

// New creates an Engine from configuration. The checkpoint store, observer,
// and agent registry are created from their config sections; completers are
// instantiated lazily on first use.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}

	e := &Engine{
		locks:           newThreadLocks(),
		now:             time.Now,
		maxSteps:        cfg.MaxSteps,
		retries:         max(cfg.CompletionRetries, 0),
		maxCorrections:  cfg.MaxCorrections,
		keepCorrections: cfg.KeepCorrections,
		toolConcurrency: cfg.ToolConcurrency,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.specialists == nil {
		return nil, ErrNoSpecialists
	}

	if e.observer == nil {
		obs, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to create observer: %w", err)
		}
		e.observer = obs
	}

	if e.store == nil {
		store, err := checkpoint.New(context.Background(), &cfg.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		e.store = store
		e.closer, _ = store.(io.Closer)
	}
	e.store = checkpoint.Observe(e.store, e.observer)

	if e.agents == nil {
		reg := agent.NewRegistry(providers.New)
		if err := registerAgents(reg, cfg); err != nil {
			e.Close()
			return nil, err
		}
		e.agents = reg
	}

	return e, nil
}

func registerAgents(reg *agent.Registry, cfg *Config) error {
	if err := reg.Register(DefaultAgent, cfg.Agent); err != nil {
		return fmt.Errorf("failed to register default agent: %w", err)
	}
	for name, agentCfg := range cfg.Agents {
		merged := agent.DefaultConfig()
		merged.Merge(&agentCfg)

		var err error
		if reg.Has(name) {
			err = reg.Replace(name, merged)
		} else {
			err = reg.Register(name, merged)
		}
		if err != nil {
			return fmt.Errorf("failed to register agent %q: %w", name, err)
		}
	}
	return nil
}

// Close releases the checkpoint store when the engine opened it from
// configuration. A store passed with WithStore is left to its owner.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// Observer returns the observer receiving engine events.
func (e *Engine) Observer() observability.Observer {
	return e.observer
}

// Specialists returns the unit set the engine routes over.
func (e *Engine) Specialists() *specialist.Set {
	return e.specialists
}

// Submit appends a user message to threadID and runs the FSM until the
// turn ends or suspends. A new thread is created on first use; metadata is
// merged into the thread's identity metadata.
func (e *Engine) Submit(ctx context.Context, threadID, text string, metadata map[string]string) (*Outcome, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}

	release, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := e.store.Load(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		st = session.New(threadID, nil)
	case err != nil:
		return nil, err
	case st.Suspended():
		return nil, fmt.Errorf("%w: %s awaits a decision on %d call(s)", ErrApprovalPending, threadID, len(st.Pending.Calls))
	}

	if orphans := answerOrphans(st); len(orphans) > 0 {
		e.emit(ctx, EventOrphanedCalls, observability.LevelWarning, "engine.Submit", map[string]any{
			"thread_id": threadID,
			"calls":     orphans,
		})
	}

	st.MergeMetadata(metadata)
	base := st.Clone()

	st.Log.Append(protocol.NewMessage(protocol.RoleUser, text))
	st.Next = string(StateRoute)

	e.emit(ctx, EventTurnStart, observability.LevelInfo, "engine.Submit", map[string]any{
		"thread_id":   threadID,
		"active":      st.Active(),
		"text_length": len(text),
	})

	return e.run(ctx, newTurn(st, base))
}

// Resume answers the pending approval on threadID. Approve executes the
// held calls; Deny records a refusal for each of them. Either way the
// suspended unit reasons again.
func (e *Engine) Resume(ctx context.Context, threadID string, d Decision) (*Outcome, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", ErrInvalidInput)
	}

	release, err := e.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !st.Suspended() {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingApproval, threadID)
	}

	t := newTurn(st, st.Clone())
	if d.Approved {
		err = e.approve(ctx, t)
	} else {
		err = e.deny(ctx, t, d.Reason)
	}
	if err != nil {
		return nil, err
	}

	return e.run(ctx, t)
}

// GetState returns a snapshot of the thread's checkpointed state.
func (e *Engine) GetState(ctx context.Context, threadID string) (*session.State, error) {
	return e.load(ctx, threadID)
}

func (e *Engine) load(ctx context.Context, threadID string) (*session.State, error) {
	st, err := e.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return st, err
}

func (e *Engine) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	e.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	})
}
