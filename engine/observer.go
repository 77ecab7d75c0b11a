package engine

import "github.com/tailored-agentic-units/dispatch/observability"

// Engine event types.
const (
	EventTurnStart       observability.EventType = "engine.turn.start"
	EventTurnComplete    observability.EventType = "engine.turn.complete"
	EventTransition      observability.EventType = "engine.transition"
	EventCompletionRetry observability.EventType = "engine.completion.retry"
	EventCorrection      observability.EventType = "engine.correction"
	EventToolCall        observability.EventType = "engine.tool.call"
	EventToolComplete    observability.EventType = "engine.tool.complete"
	EventDelegate        observability.EventType = "engine.delegate"
	EventEscalate        observability.EventType = "engine.escalate"
	EventStackUnderflow  observability.EventType = "engine.stack.underflow"
	EventSuspend         observability.EventType = "engine.suspend"
	EventApprove         observability.EventType = "engine.approve"
	EventDeny            observability.EventType = "engine.deny"
	EventRollback        observability.EventType = "engine.rollback"
	EventOrphanedCalls   observability.EventType = "engine.orphaned_calls"
	EventError           observability.EventType = "engine.error"
)
