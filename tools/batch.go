package tools

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// CallResult is the outcome of one call in a batch.
type CallResult struct {
	Call   protocol.ToolCall
	Result Result
	Err    error
}

// Failed reports whether the call errored or the handler flagged an error.
func (c CallResult) Failed() bool {
	return c.Err != nil || c.Result.IsError
}

// Message converts the outcome into the tool-role message answering the
// call. Dispatch errors become "error: ..." content so the model can react
// to them in conversation.
func (c CallResult) Message() protocol.Message {
	if c.Err != nil {
		return protocol.NewToolResult(c.Call.ID, fmt.Sprintf("error: %s", c.Err))
	}
	return protocol.NewToolResult(c.Call.ID, c.Result.Content)
}

// ExecuteBatch runs calls concurrently with at most limit in flight
// (limit <= 0 means unbounded). Results are returned in call order. A
// failing call never cancels its siblings.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []protocol.ToolCall, limit int) []CallResult {
	results := make([]CallResult, len(calls))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, call := range calls {
		g.Go(func() error {
			res, err := r.Execute(ctx, call)
			results[i] = CallResult{Call: call, Result: res, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
