package checkpoint_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/dispatch/checkpoint"
	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/session"
)

type storeCase struct {
	name string
	open func(t *testing.T) checkpoint.Store
}

func storeCases() []storeCase {
	return []storeCase{
		{"memory", func(*testing.T) checkpoint.Store { return checkpoint.NewMemoryStore() }},
		{"file", func(t *testing.T) checkpoint.Store { return checkpoint.NewFileStore(t.TempDir()) }},
		{"sqlite", func(t *testing.T) checkpoint.Store {
			s, err := checkpoint.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "checkpoints.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func sampleState(threadID string) *session.State {
	st := session.New(threadID, map[string]string{session.MetaWalletAddress: "0xabc"})
	st.Log.Append(
		protocol.NewMessage(protocol.RoleUser, "mint a license"),
		protocol.Message{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{
				{ID: "c1", Name: "mint_license_tokens", Arguments: map[string]any{"amount": "2"}},
			},
		},
	)
	st.Stack.Push("license")
	st.Pending = &session.PendingApproval{
		Specialist: "license",
		Calls:      []protocol.ToolCall{{ID: "c1", Name: "mint_license_tokens", Arguments: map[string]any{"amount": "2"}}},
	}
	st.Next = "execute_sensitive"
	st.Step = 5
	return st
}

func TestStores_SaveLoad(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := tc.open(t)
			want := sampleState("thread-1")

			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := store.Load(ctx, "thread-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if diff := cmp.Diff(want.Log.Messages(), got.Log.Messages()); diff != "" {
				t.Errorf("log mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.Stack.IDs(), got.Stack.IDs()); diff != "" {
				t.Errorf("stack mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.Pending, got.Pending); diff != "" {
				t.Errorf("pending mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.Metadata, got.Metadata); diff != "" {
				t.Errorf("metadata mismatch (-want +got):\n%s", diff)
			}
			if got.Next != want.Next || got.Step != want.Step {
				t.Errorf("got next=%q step=%d, want next=%q step=%d", got.Next, got.Step, want.Next, want.Step)
			}
		})
	}
}

func TestStores_NotFound(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.open(t).Load(context.Background(), "missing")
			if !errors.Is(err, checkpoint.ErrNotFound) {
				t.Errorf("Load(missing) error = %v, want %v", err, checkpoint.ErrNotFound)
			}
		})
	}
}

func TestStores_LastWriterWins(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := tc.open(t)

			st := sampleState("thread-1")
			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("first Save failed: %v", err)
			}

			st.Pending = nil
			st.Step = 9
			st.Log.Append(protocol.NewToolResult("c1", "minted"))
			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("second Save failed: %v", err)
			}

			got, err := store.Load(ctx, "thread-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got.Step != 9 || got.Pending != nil || got.Log.Len() != 3 {
				t.Errorf("got step=%d pending=%v len=%d, want step=9 pending=nil len=3", got.Step, got.Pending, got.Log.Len())
			}
		})
	}
}

func TestStores_SnapshotIsolation(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := tc.open(t)

			st := sampleState("thread-1")
			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			st.Stack.Pop()
			st.Log.Append(protocol.NewMessage(protocol.RoleUser, "after save"))

			loaded, err := store.Load(ctx, "thread-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Active() != "license" || loaded.Log.Len() != 2 {
				t.Errorf("stored snapshot changed after save: active=%q len=%d", loaded.Active(), loaded.Log.Len())
			}

			loaded.Stack.Push("royalty")
			again, err := store.Load(ctx, "thread-1")
			if err != nil {
				t.Fatalf("second Load failed: %v", err)
			}
			if again.Active() != "license" {
				t.Errorf("stored snapshot changed through a loaded copy: active=%q", again.Active())
			}
		})
	}
}

func TestStores_DeleteAndList(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := tc.open(t)

			for _, id := range []string{"b", "a", "team/c"} {
				if err := store.Save(ctx, sampleState(id)); err != nil {
					t.Fatalf("Save(%s) failed: %v", id, err)
				}
			}

			ids, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if diff := cmp.Diff([]string{"a", "b", "team/c"}, ids); diff != "" {
				t.Errorf("List mismatch (-want +got):\n%s", diff)
			}

			if err := store.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := store.Delete(ctx, "never-saved"); err != nil {
				t.Errorf("Delete(missing) should be a no-op, got %v", err)
			}
			if _, err := store.Load(ctx, "b"); !errors.Is(err, checkpoint.ErrNotFound) {
				t.Errorf("Load after Delete error = %v, want %v", err, checkpoint.ErrNotFound)
			}
		})
	}
}

func TestStores_ConcurrentThreads(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := tc.open(t)

			var wg sync.WaitGroup
			for i := range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					id := fmt.Sprintf("thread-%02d", i)
					st := sampleState(id)
					st.Step = i
					if err := store.Save(ctx, st); err != nil {
						t.Errorf("Save(%s) failed: %v", id, err)
						return
					}
					got, err := store.Load(ctx, id)
					if err != nil {
						t.Errorf("Load(%s) failed: %v", id, err)
						return
					}
					if got.Step != i {
						t.Errorf("thread %s: got step %d, want %d", id, got.Step, i)
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestStores_RejectInvalidState(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.open(t)
			if err := store.Save(context.Background(), session.New("", nil)); !errors.Is(err, checkpoint.ErrSaveFailed) {
				t.Errorf("Save(empty id) error = %v, want %v", err, checkpoint.ErrSaveFailed)
			}
		})
	}
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := checkpoint.NewFileStore(root).Load(context.Background(), "broken")
	if !errors.Is(err, checkpoint.ErrLoadFailed) {
		t.Errorf("Load(corrupt) error = %v, want %v", err, checkpoint.ErrLoadFailed)
	}
}

func TestFileStore_ListMissingRoot(t *testing.T) {
	ids, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "absent")).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("got %d ids, want 0", len(ids))
	}
}

func TestSQLiteStore_Suspended(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer store.Close()

	waiting := sampleState("waiting")
	done := sampleState("done")
	done.Pending = nil

	for _, st := range []*session.State{waiting, done} {
		if err := store.Save(ctx, st); err != nil {
			t.Fatalf("Save(%s) failed: %v", st.ThreadID, err)
		}
	}

	ids, err := store.Suspended(ctx)
	if err != nil {
		t.Fatalf("Suspended failed: %v", err)
	}
	if diff := cmp.Diff([]string{"waiting"}, ids); diff != "" {
		t.Errorf("Suspended mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_FromConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     checkpoint.Config
		wantErr error
	}{
		{name: "default", cfg: checkpoint.DefaultConfig()},
		{name: "empty kind", cfg: checkpoint.Config{}},
		{name: "file", cfg: checkpoint.Config{Store: checkpoint.KindFile, Path: filepath.Join(dir, "files")}},
		{name: "sqlite", cfg: checkpoint.Config{Store: checkpoint.KindSQLite, Path: filepath.Join(dir, "c.db")}},
		{name: "unknown", cfg: checkpoint.Config{Store: "etcd"}, wantErr: checkpoint.ErrUnknownStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := checkpoint.New(ctx, &tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if closer, ok := store.(interface{ Close() error }); ok {
				t.Cleanup(func() { closer.Close() })
			}
			if err := store.Save(ctx, sampleState("t")); err != nil {
				t.Errorf("Save failed: %v", err)
			}
		})
	}
}

func TestNew_PathRequired(t *testing.T) {
	for _, kind := range []string{checkpoint.KindFile, checkpoint.KindSQLite} {
		if _, err := checkpoint.New(context.Background(), &checkpoint.Config{Store: kind}); err == nil {
			t.Errorf("New(%s without path) should fail", kind)
		}
	}
}

func TestRegister_CustomStore(t *testing.T) {
	shared := checkpoint.NewMemoryStore()
	checkpoint.Register("shared-test", func(context.Context, *checkpoint.Config) (checkpoint.Store, error) {
		return shared, nil
	})

	store, err := checkpoint.New(context.Background(), &checkpoint.Config{Store: "shared-test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if store != shared {
		t.Error("New should return the registered store")
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := checkpoint.DefaultConfig()
	cfg.Merge(&checkpoint.Config{Path: "/var/lib/dispatch"})

	if cfg.Store != checkpoint.KindMemory || cfg.Path != "/var/lib/dispatch" {
		t.Errorf("got %+v", cfg)
	}

	cfg.Merge(&checkpoint.Config{Store: checkpoint.KindSQLite})
	if cfg.Store != checkpoint.KindSQLite {
		t.Errorf("got store %q, want %q", cfg.Store, checkpoint.KindSQLite)
	}
}

func TestObserve_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	rec := observability.NewRecorder()
	store := checkpoint.Observe(checkpoint.NewMemoryStore(), rec)

	if err := store.Save(ctx, sampleState("t")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Load(ctx, "t"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := store.Save(ctx, session.New("", nil)); err == nil {
		t.Fatal("Save(empty id) should fail")
	}

	if got := rec.Count(checkpoint.EventSave); got != 1 {
		t.Errorf("save events = %d, want 1", got)
	}
	if got := rec.Count(checkpoint.EventLoad); got != 1 {
		t.Errorf("load events = %d, want 1", got)
	}
	errs := rec.Find(checkpoint.EventSaveError)
	if len(errs) != 1 || errs[0].Level != observability.LevelError {
		t.Errorf("save error events = %+v, want one at error level", errs)
	}
}
