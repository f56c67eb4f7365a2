// Package conversation maps chat threads to Databricks session state.
package conversation

import "time"

// State is the per-thread relay state. A thread is a Slack DM or message
// thread; RemoteSessionID is the backend-side conversation handle that
// preserves continuity across turns.
type State struct {
	ThreadID        string    `json:"thread_id"`
	RemoteSessionID string    `json:"remote_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Store owns conversation state. Implementations must guarantee that
// concurrent GetOrCreate calls for one thread id never produce two distinct
// states.
type Store interface {
	// GetOrCreate returns the state for threadID, creating an empty one if
	// none exists.
	GetOrCreate(threadID string) (*State, error)
	// Update sets the remote session id for threadID and refreshes its
	// last-activity timestamp.
	Update(threadID, remoteSessionID string) error
	// EvictOlderThan removes states whose last activity precedes now-d and
	// returns the number evicted.
	EvictOlderThan(d time.Duration) (int, error)
	// Len returns the number of tracked threads.
	Len() (int, error)
	// Close releases store resources.
	Close() error
}
