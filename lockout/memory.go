package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps lockout states in process memory. It is suitable for a
// single instance and for tests.
type MemoryStore struct {
	mu     sync.Mutex
	policy Policy
	states map[string]State
}

// NewMemoryStore returns an empty store applying p on every failure.
func NewMemoryStore(p Policy) *MemoryStore {
	return &MemoryStore{policy: p.normalized(), states: make(map[string]State)}
}

// Load returns the state for subjectID, or the zero State.
func (m *MemoryStore) Load(_ context.Context, subjectID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[subjectID], nil
}

// RecordFailure applies one failure atomically and returns the new state.
func (m *MemoryStore) RecordFailure(_ context.Context, subjectID string, now time.Time, ip string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.states[subjectID].RecordFailure(m.policy, now, ip)
	m.states[subjectID] = next
	return next, nil
}

// Reset clears the state for subjectID.
func (m *MemoryStore) Reset(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, subjectID)
	return nil
}
