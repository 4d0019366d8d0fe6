package kv

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation of Store and PubSub. It backs
// tests and single-node development runs; semantics mirror the Redis
// adapter, including lazy expiry and implicit deletion of empty sets.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Time

	subMu sync.RWMutex
	subs  map[string][]*memorySubscription

	clock func() time.Time // injectable for TTL tests
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		subs:    make(map[string][]*memorySubscription),
		clock:   time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

// expired reports and reaps under the write lock.
func (s *MemoryStore) expired(key string) bool {
	exp, ok := s.expires[key]
	if !ok || s.clock().Before(exp) {
		return false
	}
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.expires, key)
	return true
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", false, nil
	}
	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expires[key] = s.clock().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if s.expired(k) {
			continue
		}
		if v, ok := s.strings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) MSet(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.strings[e.Key] = e.Value
		if e.TTL > 0 {
			s.expires[e.Key] = s.clock().Add(e.TTL)
		} else {
			delete(s.expires, e.Key)
		}
	}
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if s.expired(k) {
			continue
		}
		if _, ok := s.strings[k]; ok {
			delete(s.strings, k)
			delete(s.expires, k)
			n++
			continue
		}
		if _, ok := s.sets[k]; ok {
			delete(s.sets, k)
			delete(s.expires, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil
	}
	_, isStr := s.strings[key]
	_, isSet := s.sets[key]
	if !isStr && !isSet {
		return nil
	}
	s.expires[key] = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) error) error {
	if batch <= 0 {
		batch = 100
	}
	s.mu.Lock()
	var matched []string
	for k := range s.strings {
		if s.expired(k) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	for k := range s.sets {
		if s.expired(k) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(matched)

	for start := 0; start < len(matched); start += int(batch) {
		end := start + int(batch)
		if end > len(matched) {
			end = len(matched)
		}
		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	set := s.sets[key]
	if set == nil {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil
	}
	set := s.sets[key]
	if set == nil {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, nil
	}
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	cp := append([]byte(nil), payload...)
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs[channel] {
		select {
		case sub.out <- cp:
		default:
			// slow subscriber: drop rather than block the publisher,
			// matching redis pub/sub semantics
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		out:     make(chan []byte, 256),
	}
	s.subMu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.subMu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	out     chan []byte
	once    sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.subMu.Lock()
		subs := s.store.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.store.subMu.Unlock()
		close(s.out)
	})
	return nil
}
