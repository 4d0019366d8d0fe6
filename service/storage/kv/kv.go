package kv

import (
	"context"
	"time"
)

// Store is the shared-state capability handed to the presence registry, the
// cache accessor and the token blacklist. Components depend on this
// interface, never on a concrete client, so tests substitute the memory
// implementation.
//
// All operations surface transport errors to the caller; a missing key is
// not an error.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// MGet returns only the keys that exist.
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	// MSet writes all entries in one round trip.
	MSet(ctx context.Context, entries []Entry) error
	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Scan walks keys matching the glob pattern incrementally, invoking fn
	// per batch. It never blocks the store the way KEYS would.
	Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) error) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Entry is one MSet item. TTL <= 0 means no expiry.
type Entry struct {
	Key   string
	Value string
	TTL   time.Duration
}

// PubSub is the broadcast capability behind the event bus. Every subscriber
// to a channel receives every published payload.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers raw payloads until Close. The channel is closed when
// the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
