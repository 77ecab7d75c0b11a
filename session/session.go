// Package session holds the per-thread conversation state that the engine
// mutates and the checkpoint store persists.
package session

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/dialog"
)

// Well-known metadata keys rendered into personas.
const (
	MetaWalletAddress = "wallet_address"
	MetaUserID        = "user_id"
)

// PendingApproval marks a thread suspended in front of sensitive tool calls.
// The next action on the thread is either executing Calls or recording a
// denial for each of them.
type PendingApproval struct {
	Specialist  string              `json:"specialist"`
	Calls       []protocol.ToolCall `json:"calls"`
	RequestedAt time.Time           `json:"requested_at"`
}

// Clone returns a deep copy.
func (p *PendingApproval) Clone() *PendingApproval {
	if p == nil {
		return nil
	}
	c := *p
	c.Calls = slices.Clone(p.Calls)
	for i := range c.Calls {
		c.Calls[i] = c.Calls[i].Clone()
	}
	return &c
}

// State is everything needed to continue a thread: its log, its dialog
// stack, identity metadata, and any outstanding approval.
type State struct {
	ThreadID  string            `json:"thread_id"`
	Log       *Log              `json:"log"`
	Stack     *dialog.Stack     `json:"stack"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Pending   *PendingApproval  `json:"pending,omitempty"`
	Next      string            `json:"next,omitempty"`
	Step      int               `json:"step"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New creates the state for a thread seen for the first time.
func New(threadID string, metadata map[string]string) *State {
	now := time.Now().UTC()
	return &State{
		ThreadID:  threadID,
		Log:       NewLog(),
		Stack:     dialog.NewStack(),
		Metadata:  maps.Clone(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewThreadID returns a fresh time-ordered thread identifier.
func NewThreadID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Suspended reports whether the thread awaits an approval decision.
func (s *State) Suspended() bool {
	return s.Pending != nil
}

// Active returns the specialist in control, or "" for the primary router.
func (s *State) Active() string {
	id, _ := s.Stack.Top()
	return id
}

// MergeMetadata overlays md onto the thread metadata. Empty values are
// ignored.
func (s *State) MergeMetadata(md map[string]string) {
	for k, v := range md {
		if v == "" {
			continue
		}
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(md))
		}
		s.Metadata[k] = v
	}
}

// Normalize fills nil collections left by decoding older or partial
// snapshots.
func (s *State) Normalize() {
	if s.Log == nil {
		s.Log = NewLog()
	}
	if s.Stack == nil {
		s.Stack = dialog.NewStack()
	}
}

// Clone returns a deep copy that shares nothing with s.
func (s *State) Clone() *State {
	c := *s
	c.Normalize()
	if s.Log != nil {
		c.Log = s.Log.Clone()
	}
	if s.Stack != nil {
		c.Stack = s.Stack.Clone()
	}
	c.Metadata = maps.Clone(s.Metadata)
	c.Pending = s.Pending.Clone()
	return &c
}
