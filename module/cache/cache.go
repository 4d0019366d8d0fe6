package cache

import (
	"context"
	"encoding/json"
	"time"

	"CampusChat/logger"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/errs"
)

// Accessor implements the cache-aside read pattern over the shared store.
// Read-path store failures never surface: a broken cache degrades to
// authoritative reads.
type Accessor struct {
	store kv.Store
}

func NewAccessor(store kv.Store) *Accessor {
	return &Accessor{store: store}
}

// GetOrSet returns the cached value under key, or computes, caches and
// returns it. A failed write-back is logged and swallowed; the caller still
// gets the computed value. Empty results (nil, empty slice, empty string)
// are returned but not cached.
//
// Concurrent misses for the same key may each run compute; last writer wins.
// compute is expected to be idempotent against the authoritative source, so
// this race is accepted rather than single-flighted.
func GetOrSet[T any](ctx context.Context, a *Accessor, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if ttl <= 0 {
		ttl = TTLEntity
	}
	return GetOrSetDynamic(ctx, a, key, func(T) time.Duration { return ttl }, compute)
}

// GetOrSetDynamic is GetOrSet with the TTL chosen from the computed value;
// message lists switch TTL on their length.
func GetOrSetDynamic[T any](ctx context.Context, a *Accessor, key string, ttlOf func(T) time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, ok, err := a.store.Get(ctx, key)
	if err != nil {
		logger.Warnf("[cache] get %s: %v", key, err)
	} else if ok {
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr == nil {
			return v, nil
		}
		// undecodable entry: drop it and recompute
		_, _ = a.store.Del(ctx, key)
	}

	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	if b, ok := marshalCacheable(v); ok {
		if serr := a.store.Set(ctx, key, string(b), ttlOf(v)); serr != nil {
			logger.Warnf("[cache] %s: %v", key, errs.ErrCacheWrite.WithDetail(serr.Error()))
		}
	}
	return v, nil
}

// Peek reads a cached value without a compute fallback. Store failures read
// as a miss.
func Peek[T any](ctx context.Context, a *Accessor, key string) (T, bool) {
	var v T
	raw, ok, err := a.store.Get(ctx, key)
	if err != nil {
		logger.Warnf("[cache] peek %s: %v", key, err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false
	}
	return v, true
}

// Put writes a derived value directly. Failures are logged and swallowed,
// same as GetOrSet write-backs.
func (a *Accessor) Put(ctx context.Context, key string, value any, ttl time.Duration) {
	b, ok := marshalCacheable(value)
	if !ok {
		return
	}
	if err := a.store.Set(ctx, key, string(b), ttl); err != nil {
		logger.Warnf("[cache] put %s: %v", key, errs.ErrCacheWrite.WithDetail(err.Error()))
	}
}

// MultiGet resolves ids in bulk: one MGet for keys prefix:id[:suffix], one
// fetch call for every miss, one batched write-back with the entity TTL.
// Result order is hits then fetched records, not input order.
func MultiGet[T any](ctx context.Context, a *Accessor, ids []string, prefix, suffix string, fetch func(ctx context.Context, missing []string) ([]T, error), idOf func(T) string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = buildKey(prefix, id, suffix)
	}

	found, err := a.store.MGet(ctx, keys...)
	if err != nil {
		logger.Warnf("[cache] mget %s: %v", prefix, err)
		found = map[string]string{}
	}

	out := make([]T, 0, len(ids))
	var missing []string
	for i, id := range ids {
		raw, ok := found[keys[i]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
			missing = append(missing, id)
			continue
		}
		out = append(out, v)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := fetch(ctx, missing)
	if err != nil {
		return nil, err
	}

	entries := make([]kv.Entry, 0, len(fetched))
	for _, v := range fetched {
		b, ok := marshalCacheable(v)
		if !ok {
			continue
		}
		entries = append(entries, kv.Entry{
			Key:   buildKey(prefix, idOf(v), suffix),
			Value: string(b),
			TTL:   TTLEntity,
		})
	}
	if len(entries) > 0 {
		if serr := a.store.MSet(ctx, entries); serr != nil {
			logger.Warnf("[cache] mset %s: %v", prefix, errs.ErrCacheWrite.WithDetail(serr.Error()))
		}
	}
	return append(out, fetched...), nil
}

// InvalidateKey removes one cache entry. Mutators call this for every key
// derived from the record they changed; there is no dependency tracking.
func (a *Accessor) InvalidateKey(ctx context.Context, key string) error {
	_, err := a.store.Del(ctx, key)
	return err
}

func (a *Accessor) InvalidateKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := a.store.Del(ctx, keys...)
	return err
}

// ScanAndDelete removes every key matching the glob patterns via an
// incremental scan, deleting in bounded batches. Returns the total removed.
func (a *Accessor) ScanAndDelete(ctx context.Context, patterns []string) (int64, error) {
	var total int64
	for _, pattern := range patterns {
		err := a.store.Scan(ctx, pattern, 100, func(keys []string) error {
			n, derr := a.store.Del(ctx, keys...)
			total += n
			return derr
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func buildKey(prefix, id, suffix string) string {
	k := prefix + ":" + id
	if suffix != "" {
		k += ":" + suffix
	}
	return k
}

// marshalCacheable serializes v and reports whether it is worth caching.
// Nil pointers, empty slices and empty strings are not cached so that a
// later read retries the authoritative source.
func marshalCacheable(v any) ([]byte, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	switch string(b) {
	case "null", "[]", `""`:
		return nil, false
	}
	return b, true
}
