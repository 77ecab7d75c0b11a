// Package agent defines the completion service contract the engine reasons
// through, along with named provider configuration.
package agent

import (
	"context"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// Request is one completion call: the rendered persona, the conversation so
// far, and the tools the model may request.
type Request struct {
	Persona  string
	Messages []protocol.Message
	Tools    []protocol.Tool
}

// Completer turns a request into an assistant message, which may carry
// structured tool calls.
type Completer interface {
	Complete(ctx context.Context, req Request) (protocol.Message, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (protocol.Message, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (protocol.Message, error) {
	return f(ctx, req)
}
