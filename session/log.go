package session

import (
	"encoding/json"
	"iter"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// Log is the append-only conversation record of one thread. It is not
// internally synchronized; the engine serializes all access per thread.
type Log struct {
	messages []protocol.Message
}

// NewLog returns a log seeded with msgs.
func NewLog(msgs ...protocol.Message) *Log {
	l := &Log{}
	l.Append(msgs...)
	return l
}

// Append adds messages to the end of the log. Appended messages are copied
// so later changes by the caller do not leak into the record.
func (l *Log) Append(msgs ...protocol.Message) {
	for _, m := range msgs {
		l.messages = append(l.messages, m.Clone())
	}
}

// Last returns the most recent message.
func (l *Log) Last() (protocol.Message, bool) {
	if len(l.messages) == 0 {
		return protocol.Message{}, false
	}
	return l.messages[len(l.messages)-1].Clone(), true
}

// All iterates over the log in order. Each call starts a fresh pass.
func (l *Log) All() iter.Seq[protocol.Message] {
	return func(yield func(protocol.Message) bool) {
		for _, m := range l.messages {
			if !yield(m.Clone()) {
				return
			}
		}
	}
}

// Len returns the number of messages.
func (l *Log) Len() int { return len(l.messages) }

// Messages returns a defensive copy of the full history.
func (l *Log) Messages() []protocol.Message {
	return l.Since(0)
}

// Since returns a copy of the messages appended after position n.
func (l *Log) Since(n int) []protocol.Message {
	if n < 0 {
		n = 0
	}
	if n >= len(l.messages) {
		return nil
	}
	copied := make([]protocol.Message, 0, len(l.messages)-n)
	for _, m := range l.messages[n:] {
		copied = append(copied, m.Clone())
	}
	return copied
}

// Clone returns an independent copy of the log.
func (l *Log) Clone() *Log {
	return &Log{messages: l.Messages()}
}

// MarshalJSON encodes the log as a JSON array, oldest first. An empty log
// encodes as [] rather than null.
func (l *Log) MarshalJSON() ([]byte, error) {
	if len(l.messages) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l.messages)
}

// UnmarshalJSON decodes a JSON array written by MarshalJSON, replacing any
// existing messages.
func (l *Log) UnmarshalJSON(data []byte) error {
	var msgs []protocol.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	l.messages = msgs
	return nil
}
