package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tailored-agentic-units/dispatch/session"
)

const fileExt = ".json"

type fileStore struct {
	root string
}

// NewFileStore creates a Store that keeps one JSON file per thread under
// root. Writes go through a temp file and rename so a crash never leaves a
// torn snapshot.
func NewFileStore(root string) Store {
	return &fileStore{root: root}
}

func (s *fileStore) path(threadID string) string {
	return filepath.Join(s.root, url.PathEscape(threadID)+fileExt)
}

func (s *fileStore) Save(_ context.Context, st *session.State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}

	if err := os.Rename(tmpName, s.path(st.ThreadID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}

	return nil
}

func (s *fileStore) Load(_ context.Context, threadID string) (*session.State, error) {
	data, err := os.ReadFile(s.path(threadID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, threadID, err)
	}
	return Decode(threadID, data)
}

func (s *fileStore) Delete(_ context.Context, threadID string) error {
	if err := os.Remove(s.path(threadID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete failed: %s: %w", threadID, err)
	}
	return nil
}

func (s *fileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	slices.Sort(ids)
	return ids, nil
}
