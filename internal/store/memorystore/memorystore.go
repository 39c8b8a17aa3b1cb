package memorystore

import (
	"sort"
	"sync"
	"time"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/store"
)

// MemoryStore keeps everything in process memory. Used by tests and by
// --ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	cookies map[string][]store.Cookie
	actions []store.ActionRecord
	nextID  int
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cookies: make(map[string][]store.Cookie),
		actions: make([]store.ActionRecord, 0),
		nextID:  1,
		now:     time.Now,
	}
}

func (ms *MemoryStore) SaveCookies(scope string, cookies []store.Cookie) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cp := make([]store.Cookie, len(cookies))
	for i, c := range cookies {
		c.Scope = scope
		cp[i] = c
	}
	ms.cookies[scope] = cp
	return nil
}

func (ms *MemoryStore) LoadCookies(scope string) ([]store.Cookie, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return append([]store.Cookie(nil), ms.cookies[scope]...), nil
}

func (ms *MemoryStore) ClearCookies(scope string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.cookies, scope)
	return nil
}

func (ms *MemoryStore) RecordAction(rec *store.ActionRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec.ID = ms.nextID
	ms.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ms.now()
	}
	ms.actions = append(ms.actions, *rec)
	return nil
}

func (ms *MemoryStore) GetActions(ordering constants.Ordering, limit int) ([]store.ActionRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make([]store.ActionRecord, len(ms.actions))
	copy(result, ms.actions)

	sort.SliceStable(result, func(i, j int) bool {
		if ordering == constants.AscendingOrdering {
			return result[i].ID < result[j].ID
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (ms *MemoryStore) CountActions() (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return len(ms.actions), nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
