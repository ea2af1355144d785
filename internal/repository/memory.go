package repository

import (
	"context"
	"sync"
	"time"

	"site-assistant/internal/domain"
)

// MemoryStore keeps sessions in process memory. It satisfies the same
// contract as Client, including version checks and TTL expiry.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionRecord
	turns    map[string][]domain.TurnRecord
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.SessionRecord),
		turns:    make(map[string][]domain.TurnRecord),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if m.expiredLocked(rec) {
		m.dropLocked(sessionID)
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) PutSession(_ context.Context, rec domain.SessionRecord, prevVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersionLocked(rec.SessionID, prevVersion); err != nil {
		return err
	}
	m.sessions[rec.SessionID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) PutSessionWithTurn(_ context.Context, rec domain.SessionRecord, prevVersion int64, turn domain.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersionLocked(rec.SessionID, prevVersion); err != nil {
		return err
	}
	m.sessions[rec.SessionID] = copyRecord(rec)
	m.turns[rec.SessionID] = append(m.turns[rec.SessionID], turn)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(sessionID)
	return nil
}

// Turns returns the recorded turns of a session in submission order.
func (m *MemoryStore) Turns(sessionID string) []domain.TurnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TurnRecord(nil), m.turns[sessionID]...)
}

// Sweep removes every expired session and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.sessions {
		if m.expiredLocked(rec) {
			m.dropLocked(id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) checkVersionLocked(sessionID string, prevVersion int64) error {
	cur, ok := m.sessions[sessionID]
	if ok && m.expiredLocked(cur) {
		m.dropLocked(sessionID)
		ok = false
	}
	switch {
	case !ok && prevVersion == 0:
		return nil
	case ok && cur.Version == prevVersion:
		return nil
	default:
		return domain.ErrVersionConflict
	}
}

func (m *MemoryStore) expiredLocked(rec domain.SessionRecord) bool {
	return rec.TTL > 0 && rec.TTL <= m.now().Unix()
}

func (m *MemoryStore) dropLocked(sessionID string) {
	delete(m.sessions, sessionID)
	delete(m.turns, sessionID)
}

func copyRecord(rec domain.SessionRecord) domain.SessionRecord {
	rec.State = append([]byte(nil), rec.State...)
	return rec
}
