package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tailored-agentic-units/dispatch/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	step       INTEGER NOT NULL,
	suspended  INTEGER NOT NULL DEFAULT 0,
	state      BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_suspended ON checkpoints(suspended);
`

// SQLiteStore keeps snapshots in a SQLite database through the pure-Go
// modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if missing) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping checkpoint db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply checkpoint schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, st *session.State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}

	suspended := 0
	if st.Suspended() {
		suspended = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, step, suspended, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
			step = excluded.step,
			suspended = excluded.suspended,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		st.ThreadID, st.Step, suspended, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, st.ThreadID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*session.State, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, threadID, err)
	}
	return Decode(threadID, data)
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete failed: %s: %w", threadID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	return s.query(ctx, `SELECT thread_id FROM checkpoints ORDER BY thread_id`)
}

// Suspended returns the threads currently waiting on an approval decision.
func (s *SQLiteStore) Suspended(ctx context.Context) ([]string, error) {
	return s.query(ctx, `SELECT thread_id FROM checkpoints WHERE suspended = 1 ORDER BY thread_id`)
}

func (s *SQLiteStore) query(ctx context.Context, q string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return ids, nil
}
