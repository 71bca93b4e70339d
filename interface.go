package swrcache

import (
	"context"
	"time"
)

// ICache is an interface for the generic TTL cache.
// For convenience of testing and replacing the implementation.
type ICache[T any] interface {
	Get(key Key) (Entry[T], bool)
	Set(key Key, value T)
	Has(key Key) bool
	Delete(key Key) bool
	Invalidate(prefix Key)
	Deduplicate(ctx context.Context, key Key, fetch FetchFunc[T]) (T, error)
	IsFetching(key Key) bool
	Clear()
}

// IList is an interface for a cached singular collection.
type IList[T any] interface {
	Preload(ctx context.Context) []T
	Data() ([]T, bool)
	IsLoading() bool
	HasData() bool
	Invalidate()
	Clear()
}

// IDetails is an interface for a keyed collection of detail payloads.
type IDetails[ID comparable, D any] interface {
	PreloadDetails(ctx context.Context, ids ...ID)
	GetDetails(id ID) (D, bool)
	State(id ID) State
	IsLoading(id ID) bool
	IsAvailable(id ID) bool
	IsStale(id ID) bool
	IsFailed(id ID) bool
	WaitForDetails(ctx context.Context, id ID, timeout time.Duration) (D, bool)
	MarkAllStale()
	ClearFailed()
	Invalidate(id ID)
	Clear()
}

// Refresher is the collection side of a revalidation: it drops freshness and fetches again.
type Refresher interface {
	Refresh(ctx context.Context)
}

// StaleMarker is the detail side of a revalidation.
type StaleMarker interface {
	MarkAllStale()
	ClearFailed()
}
