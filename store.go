package swrcache

import (
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// freshness is the classification of an entry by its age.
type freshness int

const (
	fresh freshness = iota
	stale
	expired
)

func classify(age, freshTime, gcTime time.Duration) freshness {
	switch {
	case age > gcTime:
		return expired
	case age > freshTime:
		return stale
	default:
		return fresh
	}
}

type entry[T any] struct {
	value     T
	createdAt time.Time
}

// entryStore is a wrapper around lru.Cache holding values with their creation time.
// Entries are only read with Peek, so the recency order is the write order and
// overflowing an explicit capacity drops the entry written longest ago.
// The owner serializes access.
type entryStore[T any] struct {
	data *lru.Cache[string, *entry[T]]
}

// newEntryStore creates a new entryStore. A size <= 0 means unbounded.
func newEntryStore[T any](size int) (*entryStore[T], error) {
	if size <= 0 {
		size = math.MaxInt
	}

	c, err := lru.New[string, *entry[T]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry store: %w", err)
	}

	return &entryStore[T]{data: c}, nil
}

func (s *entryStore[T]) get(key string) (*entry[T], bool) {
	return s.data.Peek(key)
}

func (s *entryStore[T]) set(key string, value T, now time.Time) {
	// Remove first so the rewritten key moves to the newest position.
	s.data.Remove(key)
	s.data.Add(key, &entry[T]{value: value, createdAt: now})
}

func (s *entryStore[T]) remove(key string) bool {
	return s.data.Remove(key)
}

// keys returns the stored keys, oldest write first.
func (s *entryStore[T]) keys() []string {
	return s.data.Keys()
}

func (s *entryStore[T]) len() int {
	return s.data.Len()
}

func (s *entryStore[T]) purge() {
	s.data.Purge()
}
