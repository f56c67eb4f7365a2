package conversation

import (
	"sync"
	"time"
)

// MemoryStore keeps conversation state in a mutex-guarded map. State is
// lost on restart; deployments that need durable continuity use SQLiteStore.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// GetOrCreate returns the state for threadID, creating it if needed.
func (s *MemoryStore) GetOrCreate(threadID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[threadID]; ok {
		return cloneState(st), nil
	}
	now := time.Now()
	st := &State{ThreadID: threadID, CreatedAt: now, LastActivityAt: now}
	s.states[threadID] = st
	return cloneState(st), nil
}

// Update sets the remote session id and refreshes last activity.
func (s *MemoryStore) Update(threadID, remoteSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[threadID]
	if !ok {
		now := time.Now()
		st = &State{ThreadID: threadID, CreatedAt: now}
		s.states[threadID] = st
	}
	st.RemoteSessionID = remoteSessionID
	st.LastActivityAt = time.Now()
	return nil
}

// EvictOlderThan removes stale threads and returns the evicted count.
func (s *MemoryStore) EvictOlderThan(d time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-d)
	evicted := 0
	for id, st := range s.states {
		if st.LastActivityAt.Before(cutoff) {
			delete(s.states, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len returns the number of tracked threads.
func (s *MemoryStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func cloneState(st *State) *State {
	c := *st
	return &c
}
