package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/tools"
)

// ReasonHeader carries the engine error kind alongside the Connect code so
// clients can restore the sentinel.
const ReasonHeader = "Dispatch-Reason"

// errorCodes is matched in order; the first sentinel found in the chain
// decides the code.
var errorCodes = []struct {
	err    error
	code   connect.Code
	reason string
}{
	{context.Canceled, connect.CodeCanceled, "canceled"},
	{context.DeadlineExceeded, connect.CodeDeadlineExceeded, "deadline_exceeded"},
	{engine.ErrThreadNotFound, connect.CodeNotFound, "thread_not_found"},
	{engine.ErrNoPendingApproval, connect.CodeFailedPrecondition, "no_pending_approval"},
	{engine.ErrApprovalPending, connect.CodeFailedPrecondition, "approval_pending"},
	{engine.ErrInvalidInput, connect.CodeInvalidArgument, "invalid_input"},
	{engine.ErrCheckpointWrite, connect.CodeAborted, "checkpoint_write"},
	{engine.ErrCompletion, connect.CodeUnavailable, "completion"},
	{engine.ErrNoCompleter, connect.CodeUnavailable, "no_completer"},
	{engine.ErrDegenerateCompletion, connect.CodeUnavailable, "degenerate_completion"},
	{engine.ErrMaxSteps, connect.CodeResourceExhausted, "max_steps"},
	{tools.ErrUnregisteredTool, connect.CodeAborted, "unregistered_tool"},
}

func toConnectError(err error) *connect.Error {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			cerr := connect.NewError(m.code, err)
			cerr.Meta().Set(ReasonHeader, m.reason)
			return cerr
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

// fromConnectError wraps err with the engine sentinel named by the server,
// keeping the Connect error in the chain.
func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}

	reason := cerr.Meta().Get(ReasonHeader)
	for _, m := range errorCodes {
		if m.reason == reason {
			return fmt.Errorf("%w: %w", m.err, cerr)
		}
	}
	return err
}
