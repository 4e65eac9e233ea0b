package session

import (
	"context"
	"sync"
	"time"

	"helpdeskagent/internal/models"
)

// MemoryStore keeps sessions in process memory with a sliding TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, key string, identity models.Identity, role models.Role) (*models.Session, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok && !s.Expired(now) {
		return s.Clone(), false, nil
	}
	s, err := newSession(key, identity, role, now, m.ttl)
	if err != nil {
		return nil, false, err
	}
	m.sessions[key] = s
	return s.Clone(), true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*models.Session, error) {
	now := m.now()
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok || s.Expired(now) {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Append(_ context.Context, key, sessionID string, msgs ...*models.Message) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok || s.ID != sessionID || s.Expired(now) {
		return ErrNotFound
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		c := *msg
		c.SessionKey = key
		s.History = append(s.History, &c)
	}
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	delete(m.sessions, key)
	return ok, nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of sessions held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
