package conversation

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Schema is applied on open. Conversations carry the thread→session
// mapping; processed_events persists dedup state so a restart keeps
// rejecting redelivered events.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	thread_id TEXT PRIMARY KEY,
	remote_session_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	last_activity_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT PRIMARY KEY,
	processed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_events_at ON processed_events(processed_at);
`

// SQLiteStore persists conversation state and processed event ids.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the state database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetOrCreate returns the state for threadID, inserting an empty row if
// none exists. The INSERT is idempotent so concurrent callers converge on
// one row.
func (s *SQLiteStore) GetOrCreate(threadID string) (*State, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO conversations (thread_id, remote_session_id, created_at, last_activity_at)
		 VALUES (?, '', ?, ?)
		 ON CONFLICT(thread_id) DO NOTHING`,
		threadID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	st := &State{ThreadID: threadID}
	err = s.db.QueryRow(
		`SELECT remote_session_id, created_at, last_activity_at FROM conversations WHERE thread_id = ?`,
		threadID,
	).Scan(&st.RemoteSessionID, &st.CreatedAt, &st.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return st, nil
}

// Update sets the remote session id and refreshes last activity.
func (s *SQLiteStore) Update(threadID, remoteSessionID string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE conversations SET remote_session_id = ?, last_activity_at = ? WHERE thread_id = ?`,
		remoteSessionID, now, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.Exec(
			`INSERT INTO conversations (thread_id, remote_session_id, created_at, last_activity_at)
			 VALUES (?, ?, ?, ?)`,
			threadID, remoteSessionID, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
	}
	return nil
}

// EvictOlderThan removes stale threads and returns the evicted count.
func (s *SQLiteStore) EvictOlderThan(d time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-d)
	res, err := s.db.Exec(`DELETE FROM conversations WHERE last_activity_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Len returns the number of tracked threads.
func (s *SQLiteStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkProcessed records that an event id has produced its reply.
func (s *SQLiteStore) MarkProcessed(eventID string) error {
	_, err := s.db.Exec(
		`INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET processed_at = excluded.processed_at`,
		eventID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// WasProcessed reports whether an event id was recorded before, including
// before a restart.
func (s *SQLiteStore) WasProcessed(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ForgetProcessed drops one event id. Used by the fail-open redelivery
// policy.
func (s *SQLiteStore) ForgetProcessed(eventID string) error {
	_, err := s.db.Exec(`DELETE FROM processed_events WHERE event_id = ?`, eventID)
	return err
}

// PruneProcessed removes processed-event records older than ttl and returns
// the pruned count.
func (s *SQLiteStore) PruneProcessed(ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.Exec(`DELETE FROM processed_events WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
