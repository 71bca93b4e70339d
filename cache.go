// Package swrcache is a client-side data cache with stale-while-revalidate semantics.
//
// Cache is a generic TTL cache with request deduplication and soft, prefix based
// invalidation. List and Details build on it to hold a collection resource and a
// keyed set of detail payloads, and Revalidator refreshes both when a Signal
// reports that remote state was mutated.
package swrcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the freshness windows of a cache.
type Config struct {
	// FreshTime is the age up to which an entry is served without refetching.
	FreshTime time.Duration
	// GCTime is the age after which an entry is evicted. Must not be less than FreshTime.
	GCTime time.Duration
}

// Validate checks the window invariants.
func (c Config) Validate() error {
	if c.FreshTime < 0 {
		return fmt.Errorf("%w: negative fresh time %s", ErrInvalidConfig, c.FreshTime)
	}

	if c.GCTime < c.FreshTime {
		return fmt.Errorf("%w: gc time %s is less than fresh time %s", ErrInvalidConfig, c.GCTime, c.FreshTime)
	}

	return nil
}

// Entry is the result of a successful lookup.
type Entry[T any] struct {
	Value T
	Fresh bool
}

// FetchFunc loads the value of a key from the remote source.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cloner is implemented by values that must be deep copied on the way in and out of a cache.
type Cloner[T any] interface {
	Clone() T
}

// Cache is a time-boxed key-value cache with request deduplication.
type Cache[T any] struct {
	op  options
	cfg Config

	clone func(T) T

	mu    sync.Mutex
	store *entryStore[T]
	gate  *fetchGate
}

// New creates a new instance of Cache.
func New[T any](cfg Config, opts ...Option) (*Cache[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	op := newOptions(opts)

	store, err := newEntryStore[T](op.maxEntries)
	if err != nil {
		return nil, err
	}

	return &Cache[T]{
		op:    op,
		cfg:   cfg,
		clone: cloneValue[T],
		mu:    sync.Mutex{},
		store: store,
		gate:  newFetchGate(),
	}, nil
}

// Get returns the value stored under key and whether it is still fresh.
// An entry older than GCTime is evicted and reported as missing.
func (c *Cache[T]) Get(key Key) (e Entry[T], found bool) { //nolint:nonamedreturns // used in defer
	if c.op.logger != nil {
		defer func() { c.op.logger.LogCacheHitRatio(context.Background(), c.op.name, found) }()
	}

	k := storeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	stored, ok := c.store.get(k)
	if !ok {
		return Entry[T]{}, false
	}

	switch classify(c.op.now().Sub(stored.createdAt), c.cfg.FreshTime, c.cfg.GCTime) {
	case expired:
		c.store.remove(k)
		return Entry[T]{}, false
	case stale:
		return Entry[T]{Value: c.clone(stored.value), Fresh: false}, true
	default:
		return Entry[T]{Value: c.clone(stored.value), Fresh: true}, true
	}
}

// Set stores value under key, stamped with the current time.
func (c *Cache[T]) Set(key Key, value T) {
	k := storeKey(key)
	value = c.clone(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.set(k, value, c.op.now())
}

// Has checks if a non-evicted value is stored under key.
func (c *Cache[T]) Has(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes the value stored under key and detaches its outstanding fetch.
func (c *Cache[T]) Delete(key Key) bool {
	k := storeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate.invalidate(k)

	return c.store.remove(k)
}

// Invalidate marks every entry under prefix as stale without removing its value,
// and detaches every outstanding fetch under prefix. Detached fetches keep running
// but their results are discarded. Invalidate never waits for a fetch.
func (c *Cache[T]) Invalidate(prefix Key) {
	p := prefix.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	staleAt := c.op.now().Add(-c.cfg.FreshTime - time.Nanosecond)

	for _, k := range c.store.keys() {
		if !strings.HasPrefix(k, p) {
			continue
		}

		// Already stale entries keep their age, otherwise invalidation would postpone eviction.
		if stored, ok := c.store.get(k); ok && stored.createdAt.After(staleAt) {
			stored.createdAt = staleAt
		}

		c.gate.invalidate(k)
	}

	c.gate.invalidatePrefix(p)
}

// Deduplicate fetches the value of key, sharing one outstanding fetch between
// concurrent callers. The result is stored only if key was not invalidated
// while the fetch was running.
//
// Cancelling ctx releases the caller but not the shared fetch, which runs
// with the values of the context of the caller that started it.
func (c *Cache[T]) Deduplicate(ctx context.Context, key Key, fetch FetchFunc[T]) (T, error) {
	k := storeKey(key)
	fetchCtx := context.WithoutCancel(ctx)

	c.mu.Lock()
	f, _ := c.gate.begin(k)
	ch := c.gate.group.DoChan(k, func() (any, error) {
		return c.runFlight(fetchCtx, key, k, f, fetch)
	})
	c.mu.Unlock()

	var zero T

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		v, _ := res.Val.(T)

		return c.clone(v), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Cache[T]) runFlight(ctx context.Context, key Key, k string, f *flight, fetch FetchFunc[T]) (any, error) {
	ctx, span := c.op.tracer.Start(ctx, "swrcache.fetch", trace.WithAttributes(
		attribute.String("swrcache.cache", c.op.name),
		attribute.String("swrcache.key", strings.Join(key, "/")),
	))
	defer span.End()

	v, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.gate.finish(k, f)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")

		var zero T

		return zero, err
	}

	if c.gate.current(k, f) {
		c.store.set(k, c.clone(v), c.op.now())
	} else {
		span.AddEvent("result discarded after invalidation")
	}

	return v, nil
}

// IsFetching checks if a fetch for key is outstanding.
func (c *Cache[T]) IsFetching(key Key) bool {
	k := storeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gate.fetching(k)
}

// Len returns the number of stored entries, including ones not yet evicted past GCTime.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.len()
}

// Clear drops every entry, outstanding fetch and version.
// Fetches that are still running when Clear is called never write their results.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.purge()
	c.gate.reset()
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}

	return v
}
