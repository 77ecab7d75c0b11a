// Package checkpoint persists per-thread session state so a suspended
// conversation survives process restarts.
//
// Stores hold serialized snapshots: a State returned by Load never aliases
// one passed to Save. Writes for the same thread are last-writer-wins;
// different threads never interfere.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tailored-agentic-units/dispatch/session"
)

// Store is the checkpoint contract used by the engine.
type Store interface {
	// Save persists st under st.ThreadID, overwriting any previous snapshot.
	Save(ctx context.Context, st *session.State) error
	// Load returns the latest snapshot for threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*session.State, error)
	// Delete removes the snapshot for threadID. Missing threads are ignored.
	Delete(ctx context.Context, threadID string) error
	// List returns every thread ID with a stored snapshot.
	List(ctx context.Context) ([]string, error)
}

// Encode serializes a state snapshot.
func Encode(st *session.State) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", ErrSaveFailed)
	}
	if st.ThreadID == "" {
		return nil, fmt.Errorf("%w: empty thread id", ErrSaveFailed)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}
	return data, nil
}

// Decode restores a snapshot written by Encode.
func Decode(threadID string, data []byte) (*session.State, error) {
	var st session.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, threadID, err)
	}
	st.Normalize()
	return &st, nil
}
