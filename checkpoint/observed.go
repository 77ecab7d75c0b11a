package checkpoint

import (
	"context"
	"time"

	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/session"
)

// Checkpoint event types.
const (
	EventSave      observability.EventType = "checkpoint.save"
	EventLoad      observability.EventType = "checkpoint.load"
	EventSaveError observability.EventType = "checkpoint.save.error"
)

type observedStore struct {
	Store
	observer observability.Observer
}

// Observe wraps store so every save and load emits an event to observer.
func Observe(store Store, observer observability.Observer) Store {
	return &observedStore{Store: store, observer: observer}
}

func (s *observedStore) Save(ctx context.Context, st *session.State) error {
	if st == nil {
		return s.Store.Save(ctx, st)
	}

	start := time.Now()
	err := s.Store.Save(ctx, st)

	event := observability.Event{
		Type:      EventSave,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "checkpoint.Save",
		Data: map[string]any{
			"thread_id": st.ThreadID,
			"step":      st.Step,
			"next":      st.Next,
			"duration":  time.Since(start),
		},
	}
	if err != nil {
		event.Type = EventSaveError
		event.Level = observability.LevelError
		event.Data["error"] = err.Error()
	}
	s.observer.OnEvent(ctx, event)

	return err
}

func (s *observedStore) Load(ctx context.Context, threadID string) (*session.State, error) {
	start := time.Now()
	st, err := s.Store.Load(ctx, threadID)

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventLoad,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "checkpoint.Load",
		Data: map[string]any{
			"thread_id": threadID,
			"found":     err == nil,
			"duration":  time.Since(start),
		},
	})

	return st, err
}
