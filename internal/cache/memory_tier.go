package cache

import (
	"sync"
	"time"
)

// memoryEntry is one cached value in the bounded memory tier.
type memoryEntry struct {
	data      []byte
	timestamp time.Time
	ttl       time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.timestamp) > e.ttl
}

// memoryTier is a bounded in-process cache. On overflow it evicts expired
// entries first, then the oldest-inserted entry. Insertion order, not LRU:
// a read does not refresh an entry's position.
type memoryTier struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string
	maxEntries int
}

func newMemoryTier(maxEntries int) *memoryTier {
	return &memoryTier{
		entries:    make(map[string]*memoryEntry),
		order:      make([]string, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

func (t *memoryTier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		t.removeLocked(key)
		return nil, false
	}
	return entry.data, true
}

func (t *memoryTier) set(key string, data []byte, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		// Overwrite keeps the original insertion position.
		t.entries[key] = &memoryEntry{data: data, timestamp: time.Now(), ttl: ttl}
		return
	}

	if len(t.entries) >= t.maxEntries {
		t.evictLocked()
	}

	t.entries[key] = &memoryEntry{data: data, timestamp: time.Now(), ttl: ttl}
	t.order = append(t.order, key)
}

func (t *memoryTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

func (t *memoryTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*memoryEntry)
	t.order = t.order[:0]
}

func (t *memoryTier) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// evictLocked frees at least one slot: expired entries first, then the
// oldest-inserted entry. Must be called with the lock held.
func (t *memoryTier) evictLocked() {
	now := time.Now()
	live := t.order[:0]
	evicted := false
	for _, key := range t.order {
		if entry, ok := t.entries[key]; ok && entry.expired(now) {
			delete(t.entries, key)
			evicted = true
			continue
		}
		live = append(live, key)
	}
	t.order = live

	if !evicted && len(t.order) > 0 {
		oldest := t.order[0]
		delete(t.entries, oldest)
		t.order = t.order[1:]
	}
}

// removeLocked deletes a key and its order slot. Must be called with the lock held.
func (t *memoryTier) removeLocked(key string) {
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
