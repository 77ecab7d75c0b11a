package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tailored-agentic-units/dispatch/agent"
	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/dialog"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/session"
	"github.com/tailored-agentic-units/dispatch/specialist"
	"github.com/tailored-agentic-units/dispatch/tools"
)

// CorrectionPrompt is sent after a completion with neither text nor tool
// calls.
const CorrectionPrompt = "Respond with a real output."

const resumePrompt = "Resuming dialog with the host assistant. " +
	"Please reflect on the past conversation and assist the user as needed."

// DenialMessage is the tool result recorded for each call of a denied
// batch.
func DenialMessage(reason string) string {
	return fmt.Sprintf("API call denied by user. Reasoning: '%s'. Continue assisting, accounting for the user's input.", reason)
}

// NotExecutedMessage answers a sibling call dropped by a delegation or an
// escalation.
func NotExecutedMessage(name string) string {
	return fmt.Sprintf("Tool %s was not executed: control of the conversation moved before it could run.", name)
}

// InterruptedMessage answers a call whose execution was cut off by a crash
// after its approval was recorded.
func InterruptedMessage(name string) string {
	return fmt.Sprintf("Tool %s was not executed: the previous turn was interrupted before it could run.", name)
}

// answerOrphans closes the last assistant turn when some of its tool calls
// never received a result, so the log stays well-formed for the next
// completion. It returns the names of the calls it answered.
func answerOrphans(st *session.State) []string {
	msgs := st.Log.Messages()

	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != protocol.RoleTool {
			last = i
			break
		}
	}
	if last < 0 || msgs[last].Role != protocol.RoleAssistant || !msgs[last].HasToolCalls() {
		return nil
	}

	answered := make(map[string]bool)
	for _, m := range msgs[last+1:] {
		answered[m.ToolCallID] = true
	}

	var names []string
	for _, call := range msgs[last].ToolCalls {
		if answered[call.ID] {
			continue
		}
		st.Log.Append(protocol.NewToolResult(call.ID, InterruptedMessage(call.Name)))
		names = append(names, call.Name)
	}
	return names
}

// turn is the working set of one Submit or Resume call.
type turn struct {
	st     *session.State
	base   *session.State
	mark   int
	hidden map[int]bool
	steps  int
}

func newTurn(st, base *session.State) *turn {
	return &turn{st: st, base: base, mark: st.Log.Len()}
}

func (t *turn) hide(pos int) {
	if t.hidden == nil {
		t.hidden = make(map[int]bool)
	}
	t.hidden[pos] = true
}

func (e *Engine) run(ctx context.Context, t *turn) (*Outcome, error) {
	for {
		state := State(t.st.Next)

		switch state {
		case StateExecuteSensitive:
			return e.suspend(ctx, t), nil
		case StateEnd:
			return e.finish(ctx, t), nil
		}

		if err := ctx.Err(); err != nil {
			return nil, e.fail(ctx, t, state, err)
		}
		if e.maxSteps > 0 && t.steps >= e.maxSteps {
			return nil, e.fail(ctx, t, state, fmt.Errorf("%w: %d", ErrMaxSteps, e.maxSteps))
		}

		next, err := e.step(ctx, t, state)
		if err != nil {
			return nil, e.fail(ctx, t, state, err)
		}
		if err := e.transition(ctx, t, state, next); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) step(ctx context.Context, t *turn, state State) (State, error) {
	switch state {
	case StateRoute:
		if _, err := e.specialists.Unit(t.st.Active()); err != nil {
			return "", err
		}
		return StateReason, nil
	case StateReason:
		return e.reason(ctx, t)
	case StateExecuteSafe:
		return e.executeSafe(ctx, t)
	case StateDelegate:
		return e.delegate(ctx, t)
	case StateEscalate:
		return e.escalate(ctx, t)
	default:
		return "", fmt.Errorf("unknown state %q", state)
	}
}

// transition records the move from one state to the next and checkpoints
// the thread.
func (e *Engine) transition(ctx context.Context, t *turn, from, to State) error {
	t.st.Next = string(to)
	t.st.Step++
	t.st.UpdatedAt = e.now().UTC()
	t.steps++

	e.emit(ctx, EventTransition, observability.LevelVerbose, "engine.transition", map[string]any{
		"thread_id": t.st.ThreadID,
		"from":      string(from),
		"to":        string(to),
		"step":      t.st.Step,
		"active":    t.st.Active(),
	})

	return e.save(ctx, t, to)
}

func (e *Engine) save(ctx context.Context, t *turn, state State) error {
	if err := e.store.Save(ctx, t.st); err != nil {
		return e.stepError(ctx, t, state, fmt.Errorf("%w: %w", ErrCheckpointWrite, err))
	}
	return nil
}

// fail restores the base snapshot and reports err. A cancelled caller
// context does not prevent the restore.
func (e *Engine) fail(ctx context.Context, t *turn, state State, err error) error {
	if saveErr := e.store.Save(context.WithoutCancel(ctx), t.base); saveErr != nil {
		err = errors.Join(err, fmt.Errorf("%w: rollback: %w", ErrCheckpointWrite, saveErr))
	} else {
		e.emit(ctx, EventRollback, observability.LevelWarning, "engine.fail", map[string]any{
			"thread_id": t.st.ThreadID,
			"state":     string(state),
			"step":      t.base.Step,
			"error":     err.Error(),
		})
	}
	return e.stepError(ctx, t, state, err)
}

func (e *Engine) stepError(ctx context.Context, t *turn, state State, err error) error {
	e.emit(ctx, EventError, observability.LevelError, "engine.run", map[string]any{
		"thread_id": t.st.ThreadID,
		"state":     string(state),
		"error":     err.Error(),
	})
	return &StepError{
		ThreadID:   t.st.ThreadID,
		State:      state,
		Specialist: t.st.Active(),
		Err:        err,
	}
}

func (e *Engine) reason(ctx context.Context, t *turn) (State, error) {
	unit, err := e.specialists.Unit(t.st.Active())
	if err != nil {
		return "", err
	}

	completer, err := e.completerFor(unit)
	if err != nil {
		return "", err
	}

	persona, err := unit.Persona(t.st.Metadata, e.now())
	if err != nil {
		return "", err
	}

	req := agent.Request{
		Persona:  persona,
		Messages: t.st.Log.Messages(),
		Tools:    unit.Tools(),
	}

	var reply protocol.Message
	for corrections := 0; ; corrections++ {
		reply, err = e.complete(ctx, completer, req, unit)
		if err != nil {
			return "", err
		}
		reply.Role = protocol.RoleAssistant
		if !reply.IsDegenerate() {
			break
		}

		if e.maxCorrections > 0 && corrections >= e.maxCorrections {
			return "", fmt.Errorf("%w: %s after %d correction(s)", ErrDegenerateCompletion, unit.ID, corrections)
		}

		e.emit(ctx, EventCorrection, observability.LevelWarning, "engine.reason", map[string]any{
			"thread_id":  t.st.ThreadID,
			"specialist": unit.ID,
			"correction": corrections + 1,
		})

		correction := protocol.NewMessage(protocol.RoleUser, CorrectionPrompt)
		req.Messages = append(req.Messages, correction)
		if e.keepCorrections {
			t.hide(t.st.Log.Len())
			t.st.Log.Append(correction)
		}
	}

	t.st.Log.Append(reply)
	return e.classify(t, unit, reply)
}

func (e *Engine) completerFor(unit *specialist.Specialist) (agent.Completer, error) {
	if unit.Agent != "" {
		c, err := e.agents.Get(unit.Agent)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNoCompleter, unit.ID, err)
		}
		return c, nil
	}

	if e.completer != nil {
		return e.completer, nil
	}

	c, err := e.agents.Get(DefaultAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoCompleter, unit.ID, err)
	}
	return c, nil
}

func (e *Engine) complete(ctx context.Context, c agent.Completer, req agent.Request, unit *specialist.Specialist) (protocol.Message, error) {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			e.emit(ctx, EventCompletionRetry, observability.LevelWarning, "engine.complete", map[string]any{
				"specialist": unit.ID,
				"attempt":    attempt,
				"error":      err.Error(),
			})
		}

		var msg protocol.Message
		msg, err = c.Complete(ctx, req)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return protocol.Message{}, fmt.Errorf("%w: %s: %w", ErrCompletion, unit.ID, err)
}

// classify picks the next state for a reply. Every call is classified
// before any routing decision, so one unknown name fails the whole batch.
func (e *Engine) classify(t *turn, unit *specialist.Specialist, reply protocol.Message) (State, error) {
	if !reply.HasToolCalls() {
		return StateEnd, nil
	}

	var control, sensitive bool
	for _, call := range reply.ToolCalls {
		tier, err := unit.Registry.Classify(call.Name)
		if err != nil {
			return "", err
		}
		switch tier {
		case tools.TierControl:
			control = true
		case tools.TierSensitive:
			sensitive = true
		}
	}

	switch {
	case control && unit.IsRouter():
		return StateDelegate, nil
	case control:
		return StateEscalate, nil
	case sensitive:
		calls := make([]protocol.ToolCall, len(reply.ToolCalls))
		for i, call := range reply.ToolCalls {
			calls[i] = call.Clone()
		}
		t.st.Pending = &session.PendingApproval{
			Specialist:  unit.ID,
			Calls:       calls,
			RequestedAt: e.now().UTC(),
		}
		return StateExecuteSensitive, nil
	default:
		return StateExecuteSafe, nil
	}
}

func lastCalls(st *session.State) ([]protocol.ToolCall, error) {
	msg, ok := st.Log.Last()
	if !ok || msg.Role != protocol.RoleAssistant || !msg.HasToolCalls() {
		return nil, errors.New("no tool calls to answer")
	}
	return msg.ToolCalls, nil
}

func (e *Engine) executeSafe(ctx context.Context, t *turn) (State, error) {
	unit, err := e.specialists.Unit(t.st.Active())
	if err != nil {
		return "", err
	}
	calls, err := lastCalls(t.st)
	if err != nil {
		return "", err
	}

	e.execute(ctx, t, unit, unit.Nodes.Safe, calls)
	return StateReason, nil
}

// execute runs calls concurrently on node and appends their results in
// call order.
func (e *Engine) execute(ctx context.Context, t *turn, unit *specialist.Specialist, node string, calls []protocol.ToolCall) {
	for _, call := range calls {
		e.emit(ctx, EventToolCall, observability.LevelVerbose, "engine.execute", map[string]any{
			"thread_id":  t.st.ThreadID,
			"specialist": unit.ID,
			"node":       node,
			"name":       call.Name,
		})
	}

	for _, r := range unit.Registry.ExecuteBatch(ctx, calls, e.toolConcurrency) {
		e.emit(ctx, EventToolComplete, observability.LevelVerbose, "engine.execute", map[string]any{
			"thread_id":  t.st.ThreadID,
			"specialist": unit.ID,
			"node":       node,
			"name":       r.Call.Name,
			"error":      r.Failed(),
		})
		t.st.Log.Append(r.Message())
	}
}

func (e *Engine) delegate(ctx context.Context, t *turn) (State, error) {
	calls, err := lastCalls(t.st)
	if err != nil {
		return "", err
	}

	chosen := -1
	var target *specialist.Specialist
	for i, call := range calls {
		id, ok := e.specialists.Resolve(call.Name)
		if !ok {
			continue
		}
		if unit, found := e.specialists.Get(id); found {
			chosen, target = i, unit
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("%w: no delegation target in batch", tools.ErrUnregisteredTool)
	}

	from := t.st.Active()
	t.st.Stack.Apply(dialog.PushOp(target.ID))

	for i, call := range calls {
		if i == chosen {
			t.st.Log.Append(protocol.NewToolResult(call.ID, target.EntryMessage(call.Argument("request"))))
			continue
		}
		t.st.Log.Append(protocol.NewToolResult(call.ID, NotExecutedMessage(call.Name)))
	}

	e.emit(ctx, EventDelegate, observability.LevelInfo, "engine.delegate", map[string]any{
		"thread_id": t.st.ThreadID,
		"from":      from,
		"to":        target.ID,
		"depth":     t.st.Stack.Len(),
	})

	return StateRoute, nil
}

func (e *Engine) escalate(ctx context.Context, t *turn) (State, error) {
	calls, err := lastCalls(t.st)
	if err != nil {
		return "", err
	}

	popped, ok := t.st.Stack.Apply(dialog.PopOp())
	if !ok {
		e.emit(ctx, EventStackUnderflow, observability.LevelWarning, "engine.escalate", map[string]any{
			"thread_id": t.st.ThreadID,
		})
	}

	answered := false
	var cancel bool
	var reason string
	for _, call := range calls {
		if call.Name == tools.Escalate && !answered {
			answered = true
			cancel, _ = call.Arguments["cancel"].(bool)
			reason = call.Argument("reason")
			t.st.Log.Append(protocol.NewToolResult(call.ID, resumeMessage(cancel, reason)))
			continue
		}
		t.st.Log.Append(protocol.NewToolResult(call.ID, NotExecutedMessage(call.Name)))
	}

	e.emit(ctx, EventEscalate, observability.LevelInfo, "engine.escalate", map[string]any{
		"thread_id": t.st.ThreadID,
		"from":      popped,
		"to":        t.st.Active(),
		"cancel":    cancel,
		"reason":    reason,
	})

	return StateRoute, nil
}

func resumeMessage(cancel bool, reason string) string {
	var b strings.Builder
	b.WriteString(resumePrompt)
	if cancel {
		b.WriteString(" The specialist's task was cancelled.")
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		fmt.Fprintf(&b, " Reason: %s", reason)
	}
	return b.String()
}

// approve runs the held calls. The pending marker is cleared and persisted
// before anything executes, and the base snapshot advances past the
// results, so an approved call runs at most once.
func (e *Engine) approve(ctx context.Context, t *turn) error {
	pending := t.st.Pending
	unit, err := e.specialists.Unit(pending.Specialist)
	if err != nil {
		return e.stepError(ctx, t, StateExecuteSensitive, err)
	}

	e.emit(ctx, EventApprove, observability.LevelInfo, "engine.Resume", map[string]any{
		"thread_id":  t.st.ThreadID,
		"specialist": unit.ID,
		"calls":      callNames(pending.Calls),
	})

	t.st.Pending = nil
	if err := e.save(ctx, t, StateExecuteSensitive); err != nil {
		return err
	}

	e.execute(ctx, t, unit, unit.Nodes.Sensitive, pending.Calls)
	if err := e.transition(ctx, t, StateExecuteSensitive, StateReason); err != nil {
		return err
	}

	t.base = t.st.Clone()
	return nil
}

// deny answers every held call with the refusal and returns control to the
// suspended unit. Nothing executes.
func (e *Engine) deny(ctx context.Context, t *turn, reason string) error {
	pending := t.st.Pending

	e.emit(ctx, EventDeny, observability.LevelInfo, "engine.Resume", map[string]any{
		"thread_id":  t.st.ThreadID,
		"specialist": pending.Specialist,
		"calls":      callNames(pending.Calls),
		"reason":     reason,
	})

	for _, call := range pending.Calls {
		t.st.Log.Append(protocol.NewToolResult(call.ID, DenialMessage(reason)))
	}
	t.st.Pending = nil

	return e.transition(ctx, t, StateExecuteSensitive, StateReason)
}

// suspend reports the thread as halted in front of the pending unit's
// sensitive node. The event lists every tool that node can run.
func (e *Engine) suspend(ctx context.Context, t *turn) *Outcome {
	data := map[string]any{
		"thread_id":  t.st.ThreadID,
		"specialist": t.st.Pending.Specialist,
		"calls":      callNames(t.st.Pending.Calls),
	}
	if unit, ok := e.unit(t.st.Pending.Specialist); ok {
		data["node"] = unit.Nodes.Sensitive
		data["node_tools"] = unit.Registry.NamesByTier(tools.TierSensitive)
	}
	e.emit(ctx, EventSuspend, observability.LevelInfo, "engine.run", data)
	return e.outcome(t, StatusSuspended)
}

func (e *Engine) unit(id string) (*specialist.Specialist, bool) {
	unit, err := e.specialists.Unit(id)
	return unit, err == nil
}

func (e *Engine) finish(ctx context.Context, t *turn) *Outcome {
	e.emit(ctx, EventTurnComplete, observability.LevelInfo, "engine.run", map[string]any{
		"thread_id": t.st.ThreadID,
		"steps":     t.steps,
		"active":    t.st.Active(),
	})
	return e.outcome(t, StatusComplete)
}

func (e *Engine) outcome(t *turn, status Status) *Outcome {
	out := &Outcome{
		ThreadID: t.st.ThreadID,
		Status:   status,
		Pending:  t.st.Pending.Clone(),
		Active:   t.st.Active(),
		Steps:    t.steps,
	}

	for i, m := range t.st.Log.Since(t.mark) {
		if t.hidden[t.mark+i] {
			continue
		}
		out.Messages = append(out.Messages, m)
	}

	if status == StatusComplete {
		if last, ok := t.st.Log.Last(); ok && last.Role == protocol.RoleAssistant {
			out.Reply = &last
		}
	}

	return out
}

func callNames(calls []protocol.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
