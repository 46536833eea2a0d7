// Package cache implements the layered cache for fetched domain entities.
// Four tiers with increasing durability and decreasing speed: memory,
// session, local (key-value store, Redis when configured), and indexed
// (structured database). Each tier caches the same logical keys
// independently, with its own TTL.
//
// The cache is an optimization, never a correctness dependency: no error
// escapes the Manager boundary. Reads resolve to a miss, writes are logged
// and dropped.
package cache

import (
	"encoding/json"
	"time"

	"schools-in/internal/store"
	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Tier identifies one cache layer.
type Tier string

const (
	TierMemory  Tier = "memory"
	TierSession Tier = "session"
	TierLocal   Tier = "local"
	TierIndexed Tier = "indexed"
)

// durableEnvelope wraps values written to the local tier so freshness
// survives a round-trip through backends without native per-key TTL metadata.
type durableEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTLMillis int64           `json:"ttl_millis"`
}

// Manager is the single entry point for all cache access.
type Manager struct {
	prefix  string
	memory  *memoryTier
	session *store.MemoryStore
	local   store.Store
	indexed *indexedTier
}

// NewManager creates a cache manager. The local tier uses the provided
// store (Redis when REDIS_DSN is configured); session is always an isolated
// in-process store with process lifetime.
func NewManager(configManager types.ConfigManager, localStore store.Store, db *gorm.DB) *Manager {
	cfg := configManager.GetCacheConfig()
	return &Manager{
		prefix:  cfg.KeyPrefix,
		memory:  newMemoryTier(cfg.MemoryMaxEntries),
		session: store.NewMemoryStore(),
		local:   localStore,
		indexed: newIndexedTier(db),
	}
}

// Close releases the session tier. The local store and database are owned
// by the application, not the cache.
func (m *Manager) Close() error {
	return m.session.Close()
}

func (m *Manager) namespaced(key string) string {
	return m.prefix + ":cache:" + key
}

// Set writes a value to one tier. Errors are swallowed and logged.
func (m *Manager) Set(tier Tier, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cache value not serializable, dropping write")
		return
	}
	nsKey := m.namespaced(key)

	switch tier {
	case TierMemory:
		m.memory.set(nsKey, data, ttl)
	case TierSession:
		if err := m.session.Set(nsKey, data, ttl); err != nil {
			logrus.WithError(err).WithField("key", key).Debug("Session cache write failed")
		}
	case TierLocal:
		m.setLocal(nsKey, data, ttl)
	case TierIndexed:
		if err := m.indexed.set(nsKey, data, ttl); err != nil {
			logrus.WithError(err).WithField("key", key).Debug("Indexed cache write failed")
		}
	default:
		logrus.WithField("tier", tier).Warn("Unknown cache tier")
	}
}

// setLocal writes to the durable key-value tier. On a write failure it
// sweeps expired entries and retries once before giving up.
func (m *Manager) setLocal(nsKey string, data []byte, ttl time.Duration) {
	envelope, err := json.Marshal(durableEnvelope{
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
	})
	if err != nil {
		logrus.WithError(err).Debug("Local cache envelope marshal failed")
		return
	}
	if err := m.local.Set(nsKey, envelope, ttl); err == nil {
		return
	}

	m.evictExpiredLocal()
	if err := m.local.Set(nsKey, envelope, ttl); err != nil {
		logrus.WithError(err).WithField("key", nsKey).Warn("Local cache write failed after eviction")
	}
}

// evictExpiredLocal drops local-tier entries whose envelope says they are stale.
func (m *Manager) evictExpiredLocal() {
	keys, err := m.local.Keys(m.prefix + ":cache:")
	if err != nil {
		return
	}
	now := time.Now().UnixMilli()
	for _, k := range keys {
		raw, err := m.local.Get(k)
		if err != nil {
			continue
		}
		var env durableEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			m.local.Delete(k)
			continue
		}
		if env.TTLMillis > 0 && now-env.Timestamp > env.TTLMillis {
			m.local.Delete(k)
		}
	}
}

// Get reads a value from one tier into out. Returns false on a miss, an
// expired entry, or any tier error.
func (m *Manager) Get(tier Tier, key string, out any) bool {
	nsKey := m.namespaced(key)

	var data []byte
	var ok bool
	switch tier {
	case TierMemory:
		data, ok = m.memory.get(nsKey)
	case TierSession:
		raw, err := m.session.Get(nsKey)
		if err == nil {
			data, ok = raw, true
		}
	case TierLocal:
		data, ok = m.getLocal(nsKey)
	case TierIndexed:
		data, ok = m.indexed.get(nsKey)
	}
	if !ok {
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		logrus.WithError(err).WithField("key", key).Debug("Cached value failed to deserialize")
		return false
	}
	return true
}

func (m *Manager) getLocal(nsKey string) ([]byte, bool) {
	raw, err := m.local.Get(nsKey)
	if err != nil {
		return nil, false
	}
	var env durableEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.TTLMillis > 0 && time.Now().UnixMilli()-env.Timestamp > env.TTLMillis {
		m.local.Delete(nsKey)
		return nil, false
	}
	return env.Data, true
}

// Delete removes a key from one tier.
func (m *Manager) Delete(tier Tier, key string) {
	nsKey := m.namespaced(key)
	switch tier {
	case TierMemory:
		m.memory.delete(nsKey)
	case TierSession:
		m.session.Delete(nsKey)
	case TierLocal:
		m.local.Delete(nsKey)
	case TierIndexed:
		m.indexed.delete(nsKey)
	}
}

// Clear empties one tier of this manager's namespace.
func (m *Manager) Clear(tier Tier) {
	switch tier {
	case TierMemory:
		m.memory.clear()
	case TierSession:
		m.session.Clear()
	case TierLocal:
		if keys, err := m.local.Keys(m.prefix + ":cache:"); err == nil && len(keys) > 0 {
			m.local.Del(keys...)
		}
	case TierIndexed:
		m.indexed.clear(m.prefix + ":cache:")
	}
}

// GetMultiLayer probes tiers in the given priority order and returns the
// first tier that hits. A slower-tier hit does not backfill faster tiers.
func (m *Manager) GetMultiLayer(key string, out any, tiers ...Tier) (Tier, bool) {
	for _, tier := range tiers {
		if m.Get(tier, key, out) {
			return tier, true
		}
	}
	return "", false
}

// SetMultiLayer writes a value to all given tiers. A failure in one tier
// does not roll back the others.
func (m *Manager) SetMultiLayer(key string, value any, ttl time.Duration, tiers ...Tier) {
	for _, tier := range tiers {
		m.Set(tier, key, value, ttl)
	}
}

// SetByPolicy writes to all given tiers using the entity class TTL policy
// instead of a single TTL.
func (m *Manager) SetByPolicy(class, key string, value any, tiers ...Tier) {
	policy := PolicyFor(class)
	for _, tier := range tiers {
		m.Set(tier, key, value, policy.TTL(tier))
	}
}

// MemorySize returns the entry count of the memory tier.
func (m *Manager) MemorySize() int {
	return m.memory.size()
}

// RemoveExpired sweeps the indexed tier and prunes stale local-tier
// envelopes. Called from the periodic cleanup loop.
func (m *Manager) RemoveExpired() int64 {
	m.evictExpiredLocal()
	return m.indexed.removeExpired()
}
