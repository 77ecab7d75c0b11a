package engine

import (
	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/session"
)

// State is a node of the routing FSM.
type State string

const (
	StateRoute            State = "route"
	StateReason           State = "reason"
	StateExecuteSafe      State = "execute_safe"
	StateExecuteSensitive State = "execute_sensitive"
	StateDelegate         State = "delegate"
	StateEscalate         State = "escalate"
	StateEnd              State = "end"
)

// Status tells the driver whether a turn finished or is waiting on a
// decision.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusSuspended Status = "suspended"
)

// Decision is the human answer to a pending approval.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Approve lets the pending calls run.
func Approve() Decision {
	return Decision{Approved: true}
}

// Deny rejects every pending call. reason is passed to the model verbatim.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Outcome is the result of one Submit or Resume call.
type Outcome struct {
	ThreadID string                   `json:"thread_id"`
	Status   Status                   `json:"status"`
	Messages []protocol.Message       `json:"messages"`
	Reply    *protocol.Message        `json:"reply,omitempty"`
	Pending  *session.PendingApproval `json:"pending,omitempty"`
	Active   string                   `json:"active,omitempty"`
	Steps    int                      `json:"steps"`
}

// Suspended reports whether the thread is waiting on Resume.
func (o *Outcome) Suspended() bool {
	return o.Status == StatusSuspended
}
