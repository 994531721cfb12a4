package replay

import (
	"context"
	"slices"
	"sync"
	"time"
)

// memoryStore keeps identifiers in a map guarded by a mutex.
type memoryStore struct {
	entries map[string]time.Time

	mu      sync.RWMutex
	maxSize int
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxSize
// identifiers. When full, expired entries are purged first and then the
// entries closest to expiry are evicted.
func NewMemoryStore(maxSize int) Store {
	return newMemoryStore(maxSize, time.Now)
}

func newMemoryStore(maxSize int, now func() time.Time) *memoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &memoryStore{
		entries: make(map[string]time.Time, min(maxSize, 1024)),
		maxSize: maxSize,
		now:     now,
	}
}

func (m *memoryStore) MarkOnce(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	now := m.now()
	if exp, exists := m.entries[id]; exists && now.Before(exp) {
		return false, nil
	}

	if len(m.entries) >= m.maxSize {
		m.cleanupExpiredUnsafe(now)
		if len(m.entries) >= m.maxSize {
			m.evictSoonestUnsafe(max(m.maxSize/10, 1))
		}
	}

	m.entries[id] = expiresAt
	return true, nil
}

func (m *memoryStore) Contains(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	exp, exists := m.entries[id]
	if !exists {
		return false, nil
	}
	// Expired entries are left for Cleanup to avoid a write lock here.
	return m.now().Before(exp), nil
}

func (m *memoryStore) Cleanup(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return m.cleanupExpiredUnsafe(m.now()), nil
}

func (m *memoryStore) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.entries), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.entries = nil
	return nil
}

// cleanupExpiredUnsafe must be called with the write lock held.
func (m *memoryStore) cleanupExpiredUnsafe(now time.Time) int {
	cleaned := 0
	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
			cleaned++
		}
	}
	return cleaned
}

// evictSoonestUnsafe must be called with the write lock held.
func (m *memoryStore) evictSoonestUnsafe(count int) {
	type entry struct {
		id        string
		expiresAt time.Time
	}

	all := make([]entry, 0, len(m.entries))
	for id, exp := range m.entries {
		all = append(all, entry{id, exp})
	}
	slices.SortFunc(all, func(a, b entry) int {
		return a.expiresAt.Compare(b.expiresAt)
	})

	for i := 0; i < len(all) && i < count; i++ {
		delete(m.entries, all[i].id)
	}
}
