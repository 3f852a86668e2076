package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry wraps a cached value with its bookkeeping metadata
type Entry[T any] struct {
	Value       T
	CreatedAt   time.Time
	TTL         time.Duration
	AccessCount int64
	LastAccess  time.Time
	Size        int64 // approximate bytes
}

// Expired reports whether the entry's TTL has elapsed
func (e *Entry[T]) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Maintainable is the maintenance-facing view of a cache instance.
// Every Store satisfies it regardless of value type, which lets one
// background sweeper own caches holding different payloads.
type Maintainable interface {
	Sweep() int
	EvictFraction(fraction float64) int
	SizeBytes() int64
	Len() int
}

// Store is a TTL cache with LRU eviction under size pressure.
// The entry map is owned exclusively by the store; callers only go
// through Get/Set/Delete/Sweep/EvictFraction.
type Store[T any] struct {
	entries    map[string]*Entry[T]
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int // 0 means unbounded

	hits   int64
	misses int64
}

// NewStore creates a cache with the given default TTL.
// maxEntries of 0 disables the entry-count bound.
func NewStore[T any](defaultTTL time.Duration, maxEntries int) *Store[T] {
	return &Store[T]{
		entries:    make(map[string]*Entry[T]),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
	}
}

// Get returns a live entry's value and records the access.
// Expired entries are dropped on sight and count as misses.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return zero, false
	}

	now := time.Now()
	if entry.Expired(now) {
		delete(s.entries, key)
		s.misses++
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccess = now
	s.hits++
	return entry.Value, true
}

// Set stores a value under the default TTL
func (s *Store[T]) Set(key string, value T) {
	s.SetTTL(key, value, s.defaultTTL)
}

// SetTTL stores a value with an explicit TTL.
// When the store is full the least-recently-accessed entry makes room.
func (s *Store[T]) SetTTL(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictOldestLocked()
		}
	}

	now := time.Now()
	s.entries[key] = &Entry[T]{
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
		Size:       approxSize(value),
	}
}

// Delete removes an entry
func (s *Store[T]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep drops all expired entries and returns how many were removed
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// EvictFraction removes the given fraction of entries, least recently
// accessed first, and returns how many were removed
func (s *Store[T]) EvictFraction(fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := int(float64(len(s.entries)) * fraction)
	if target == 0 && len(s.entries) > 0 {
		target = 1
	}

	type keyed struct {
		key        string
		lastAccess time.Time
	}
	ordered := make([]keyed, 0, len(s.entries))
	for key, entry := range s.entries {
		ordered = append(ordered, keyed{key: key, lastAccess: entry.LastAccess})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastAccess.Before(ordered[j].lastAccess)
	})

	for i := 0; i < target && i < len(ordered); i++ {
		delete(s.entries, ordered[i].key)
	}
	return target
}

// Len returns the current entry count
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SizeBytes returns the approximate total cached byte size
func (s *Store[T]) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, entry := range s.entries {
		total += entry.Size
	}
	return total
}

// HitRate returns hits / (hits + misses), 0 when untouched
func (s *Store[T]) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

// evictOldestLocked drops the least-recently-accessed entry.
// Caller must hold the mutex.
func (s *Store[T]) evictOldestLocked() {
	var oldestKey string
	var oldestAccess time.Time
	for key, entry := range s.entries {
		if oldestKey == "" || entry.LastAccess.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = entry.LastAccess
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// approxSize estimates a value's byte footprint via its JSON encoding
func approxSize(value any) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
