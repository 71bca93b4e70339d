package swrcache

import (
	"context"
	"slices"
	"strings"
)

// ListFetcher loads the whole collection from the remote source.
type ListFetcher[T any] func(ctx context.Context) ([]T, error)

// List caches a single collection resource under one key.
// A failed fetch is logged and reported as an empty collection, so a list
// consumer never has to handle fetch errors; calling Preload again retries.
type List[T any] struct {
	op    options
	key   Key
	fetch ListFetcher[T]
	cache *Cache[[]T]
}

// NewList creates a new instance of List.
func NewList[T any](fetch ListFetcher[T], cfg Config, opts ...Option) (*List[T], error) {
	op := newOptions(opts)
	storeKey(op.listKey)

	cache, err := New[[]T](cfg, opts...)
	if err != nil {
		return nil, err
	}

	cache.clone = func(items []T) []T { return slices.Clone(items) }

	return &List[T]{
		op:    op,
		key:   op.listKey,
		fetch: fetch,
		cache: cache,
	}, nil
}

// Preload returns the collection, fetching it unless a fresh copy is cached.
// Concurrent calls share one fetch. On failure the error is logged and an empty
// collection is returned.
func (l *List[T]) Preload(ctx context.Context) []T {
	if e, ok := l.cache.Get(l.key); ok && e.Fresh {
		return e.Value
	}

	items, err := l.cache.Deduplicate(ctx, l.key, FetchFunc[[]T](l.fetch))
	if err != nil {
		if ctx.Err() == nil && l.op.logger != nil {
			l.op.logger.LogFetchError(ctx, l.op.name, strings.Join(l.key, "/"), err)
		}

		return []T{}
	}

	return items
}

// Refresh drops the freshness of the collection and fetches it again.
func (l *List[T]) Refresh(ctx context.Context) {
	l.Invalidate()
	l.Preload(ctx)
}

// Data returns the cached collection, fresh or stale.
func (l *List[T]) Data() ([]T, bool) {
	e, ok := l.cache.Get(l.key)
	return e.Value, ok
}

// IsLoading checks if a fetch of the collection is outstanding.
func (l *List[T]) IsLoading() bool {
	return l.cache.IsFetching(l.key)
}

// HasData checks if the collection is cached, fresh or stale.
func (l *List[T]) HasData() bool {
	return l.cache.Has(l.key)
}

// Invalidate marks the collection stale, keeping it for display.
func (l *List[T]) Invalidate() {
	l.cache.Invalidate(l.key)
}

// Clear removes the collection and detaches its outstanding fetch.
func (l *List[T]) Clear() {
	l.cache.Delete(l.key)
}
