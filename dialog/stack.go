// Package dialog tracks which specialist currently owns a conversation.
//
// The Stack records delegation depth: the top entry is the specialist in
// control, and an empty stack means the primary router is in control.
package dialog

import (
	"encoding/json"
	"slices"
)

// OpKind enumerates the stack mutations.
type OpKind int

const (
	OpPush OpKind = iota + 1
	OpPop
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	default:
		return "unknown"
	}
}

// Op is a single typed stack mutation.
type Op struct {
	Kind OpKind
	ID   string
}

// PushOp returns the operation that hands control to specialist id.
func PushOp(id string) Op { return Op{Kind: OpPush, ID: id} }

// PopOp returns the operation that returns control to the parent.
func PopOp() Op { return Op{Kind: OpPop} }

// Stack is an ordered sequence of specialist IDs in delegation order.
// The zero value is an empty stack ready for use. Stack is not safe for
// concurrent use; callers serialize access per conversation.
type Stack struct {
	ids []string
}

// NewStack returns a stack holding ids, bottom first.
func NewStack(ids ...string) *Stack {
	return &Stack{ids: slices.Clone(ids)}
}

// Push places id on top of the stack.
func (s *Stack) Push(id string) {
	s.ids = append(s.ids, id)
}

// Pop removes and returns the top entry. On an empty stack it returns
// ("", false) and leaves the stack empty.
func (s *Stack) Pop() (string, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	top := s.ids[len(s.ids)-1]
	s.ids = s.ids[:len(s.ids)-1]
	return top, true
}

// Top returns the entry in control without removing it.
func (s *Stack) Top() (string, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[len(s.ids)-1], true
}

// Apply performs op. For OpPop it returns the removed entry; for OpPush it
// returns the pushed id. The boolean is false only when popping an empty
// stack or when the op kind is unknown.
func (s *Stack) Apply(op Op) (string, bool) {
	switch op.Kind {
	case OpPush:
		s.Push(op.ID)
		return op.ID, true
	case OpPop:
		return s.Pop()
	default:
		return "", false
	}
}

// Len returns the delegation depth.
func (s *Stack) Len() int { return len(s.ids) }

// IDs returns a copy of the entries, bottom first.
func (s *Stack) IDs() []string {
	if len(s.ids) == 0 {
		return nil
	}
	return slices.Clone(s.ids)
}

// Clone returns an independent copy.
func (s *Stack) Clone() *Stack {
	return &Stack{ids: slices.Clone(s.ids)}
}

// MarshalJSON encodes the stack as a JSON array, bottom first.
func (s *Stack) MarshalJSON() ([]byte, error) {
	if len(s.ids) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes a JSON array written by MarshalJSON.
func (s *Stack) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	s.ids = ids
	return nil
}
