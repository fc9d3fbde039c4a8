package confirmation

import (
	"context"
	"sync"
	"time"
)

type subjectKey struct {
	purpose Purpose
	subject string
}

// MemoryStore is a mutex-guarded Store for single-process deployments and
// tests. Tokens do not survive a restart and are not shared between
// instances.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*record
	index     map[subjectKey]string
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore returns an empty store. A nil now selects time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records:   make(map[string]*record),
		index:     make(map[subjectKey]string),
		retention: DefaultUsedRetention,
		now:       now,
	}
}

// Create issues a new token, superseding any pending one for the subject.
func (m *MemoryStore) Create(_ context.Context, purpose Purpose, subjectID string, payload map[string]string, ttl time.Duration) (string, error) {
	if err := validateCreate(purpose, subjectID); err != nil {
		return "", err
	}
	if ttl < 0 {
		ttl = 0
	}

	token, hash, err := newToken()
	if err != nil {
		return "", err
	}

	now := m.now()
	rec := &record{
		Purpose:   purpose,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		SubjectID: subjectID,
		Payload:   copyPayload(payload),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := subjectKey{purpose: purpose, subject: subjectID}
	if old, ok := m.index[key]; ok {
		delete(m.records, old)
	}
	m.records[hash] = rec
	m.index[key] = hash

	return token, nil
}

// Consume redeems token for purpose.
func (m *MemoryStore) Consume(_ context.Context, token string, purpose Purpose) (Result, error) {
	if !wellFormed(token) {
		return Result{Status: StatusNotFound}, nil
	}
	hash := hashToken(token)
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[hash]
	if !ok {
		return Result{Status: StatusNotFound}, nil
	}
	if nowMs >= rec.ExpiresAt {
		if !rec.Used {
			m.spendLocked(hash, rec)
		}
		return Result{Status: StatusExpired}, nil
	}
	if rec.Used {
		return Result{Status: StatusAlreadyUsed}, nil
	}
	if rec.Purpose != purpose {
		return Result{Status: StatusPurposeMismatch}, nil
	}

	m.spendLocked(hash, rec)
	return rec.result(StatusOK), nil
}

func (m *MemoryStore) spendLocked(hash string, rec *record) {
	rec.Used = true
	key := subjectKey{purpose: rec.Purpose, subject: rec.SubjectID}
	if m.index[key] == hash {
		delete(m.index, key)
	}
}

// Cancel removes the pending token for (purpose, subjectID), if any.
func (m *MemoryStore) Cancel(_ context.Context, purpose Purpose, subjectID string) (bool, error) {
	if err := validateCreate(purpose, subjectID); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := subjectKey{purpose: purpose, subject: subjectID}
	hash, ok := m.index[key]
	if !ok {
		return false, nil
	}
	delete(m.index, key)
	delete(m.records, hash)
	return true, nil
}

// Pending counts unexpired, unused tokens for purpose.
func (m *MemoryStore) Pending(_ context.Context, purpose Purpose) (int, error) {
	if !purpose.valid() {
		return 0, ErrInvalidPurpose
	}
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, hash := range m.index {
		rec := m.records[hash]
		if rec != nil && rec.Purpose == purpose && !rec.Used && nowMs < rec.ExpiresAt {
			n++
		}
	}
	return n, nil
}

// Sweep removes expired, unused records, and spent records older than the
// retention window. Only the former are counted.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	nowMs := now.UnixMilli()
	retentionMs := m.retention.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, rec := range m.records {
		switch {
		case !rec.Used && nowMs >= rec.ExpiresAt:
			m.spendLocked(hash, rec)
			delete(m.records, hash)
			removed++
		case rec.Used && nowMs >= rec.ExpiresAt+retentionMs:
			delete(m.records, hash)
		}
	}
	return removed, nil
}
