// Package store provides a key-value storage abstraction with TTL support,
// backed by either an in-memory store or Redis.
package store

import (
	"errors"
	"time"

	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("store: key not found")

// Message represents a message received from a subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription represents an active subscription to a channel.
type Subscription interface {
	// Channel returns the channel for receiving messages.
	Channel() <-chan *Message
	// Close unsubscribes and releases any associated resources.
	Close() error
}

// Store defines the interface for a key-value store with pub/sub support.
type Store interface {
	// Get retrieves a value by its key. Returns ErrNotFound if the key does
	// not exist or has expired.
	Get(key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL. A zero ttl means no
	// expiry.
	Set(key string, value []byte, ttl time.Duration) error

	// Delete removes a value by its key.
	Delete(key string) error

	// Del removes multiple values by their keys.
	Del(keys ...string) error

	// Exists checks if a key exists and has not expired.
	Exists(key string) (bool, error)

	// SetNX sets a key-value pair only if the key does not already exist.
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)

	// Keys returns all live keys matching the given prefix.
	Keys(prefix string) ([]string, error)

	// Clear removes all data from the store.
	Clear() error

	// Publish sends a message to all subscribers of a channel.
	Publish(channel string, message []byte) error

	// Subscribe listens for messages on a given channel.
	Subscribe(channel string) (Subscription, error)

	// Close releases any resources held by the store.
	Close() error
}

// NewStore creates a store based on configuration: Redis when REDIS_DSN is
// set, in-memory otherwise.
func NewStore(configManager types.ConfigManager) (Store, error) {
	redisDSN := configManager.GetRedisDSN()
	if redisDSN == "" {
		logrus.Debug("REDIS_DSN not configured, using in-memory store")
		return NewMemoryStore(), nil
	}

	logrus.Debug("Using Redis store")
	return NewRedisStore(redisDSN)
}
