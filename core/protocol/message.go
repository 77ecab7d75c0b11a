// Package protocol defines the conversation types shared by the engine,
// the completion adapters, and the tool registry.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single structured tool request emitted by the model.
// ID is unique within the assistant turn that produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MarshalJSON writes the nested function-calling format
// ({id, type, function: {name, arguments}}) with arguments encoded as a
// JSON string, which is what chat completion providers exchange.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments for %s: %w", tc.Name, err)
	}
	quoted, err := json.Marshal(string(encoded))
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function wireFunction `json:"function"`
	}{
		ID:       tc.ID,
		Type:     "function",
		Function: wireFunction{Name: tc.Name, Arguments: quoted},
	})
}

// UnmarshalJSON accepts the nested format written by MarshalJSON as well
// as a flat {id, name, arguments} object. Arguments may be either a JSON
// object or a string containing one.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Function  *wireFunction   `json:"function"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tc.ID = raw.ID
	tc.Name = raw.Name
	args := raw.Arguments
	if raw.Function != nil && raw.Function.Name != "" {
		tc.Name = raw.Function.Name
		args = raw.Function.Arguments
	}

	decoded, err := decodeArguments(args)
	if err != nil {
		return fmt.Errorf("decode arguments for %s: %w", tc.Name, err)
	}
	tc.Arguments = decoded
	return nil
}

// RawArguments returns the arguments as a JSON object for handler dispatch.
func (tc ToolCall) RawArguments() json.RawMessage {
	if len(tc.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// Argument returns the string value of a named argument, or "" when the
// argument is absent or not a string.
func (tc ToolCall) Argument(name string) string {
	s, _ := tc.Arguments[name].(string)
	return s
}

// Clone returns a copy whose argument map can be modified independently.
func (tc ToolCall) Clone() ToolCall {
	tc.Arguments = maps.Clone(tc.Arguments)
	return tc
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}

	// Numbers stay json.Number so integer amounts survive a checkpoint
	// round trip without float64 rounding.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after arguments object")
	}
	return args, nil
}

// Message is a single entry in a conversation. Assistant messages may carry
// ToolCalls; tool messages carry the ToolCallID of the request they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewMessage creates a Message with the given role and content.
//
//	msg := protocol.NewMessage(protocol.RoleUser, "raise a dispute")
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// NewToolResult creates the tool-role message answering callID.
func NewToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsDegenerate reports whether the message is an assistant turn with
// neither text nor tool calls.
func (m Message) IsDegenerate() bool {
	return m.Role == RoleAssistant && !m.HasToolCalls() && strings.TrimSpace(m.Content) == ""
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := slices.Clone(m.ToolCalls)
		for i := range calls {
			calls[i] = calls[i].Clone()
		}
		m.ToolCalls = calls
	}
	return m
}
