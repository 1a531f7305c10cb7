package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/harun/menubot/pkg/conversation"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*conversation.State
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*conversation.State),
		now:    time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (st *conversation.State, err error) {
	_, done := observe(ctx, "memory", "load", sessionID)
	defer func() { done(err) }()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, st *conversation.State) (err error) {
	_, done := observe(ctx, "memory", "save", st.SessionID)
	defer func() { done(err) }()

	if err := validateSessionID(st.SessionID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if stored, ok := m.states[st.SessionID]; ok {
		current = stored.Version
	}
	if current != st.Version {
		return ErrVersionConflict
	}

	next := st.Clone()
	stamp(next, m.now())
	next.Version = st.Version + 1
	m.states[st.SessionID] = next

	st.Version = next.Version
	st.CreatedAt = next.CreatedAt
	st.UpdatedAt = next.UpdatedAt
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) (err error) {
	_, done := observe(ctx, "memory", "delete", sessionID)
	defer func() { done(err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// ListStale implements Pruner.
func (m *MemoryStore) ListStale(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, st := range m.states {
		if st.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
