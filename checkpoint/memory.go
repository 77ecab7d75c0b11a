package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/dispatch/session"
)

// memoryStore keeps encoded snapshots in a map. Snapshots are lost when the
// process exits.
type memoryStore struct {
	states map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryStore creates an in-process Store.
func NewMemoryStore() Store {
	return &memoryStore{states: make(map[string][]byte)}
}

func (m *memoryStore) Save(_ context.Context, st *session.State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[st.ThreadID] = data
	return nil
}

func (m *memoryStore) Load(_ context.Context, threadID string) (*session.State, error) {
	m.mu.RLock()
	data, exists := m.states[threadID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	return Decode(threadID, data)
}

func (m *memoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, threadID)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
