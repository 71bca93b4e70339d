package swrcache

import (
	"context"
	"sync"
	"sync/atomic"
)

// Revalidator reacts to mutation signals: it marks every cached detail stale
// and refetches only the collection, leaving details to reload on next access.
//
// At most one revalidation runs at a time. A signal observed while one is
// running is dropped, so a burst of mutations costs one collection fetch.
// The first observation of the signal, made when subscribing, never triggers.
type Revalidator struct {
	ctx     context.Context //nolint:containedctx // background revalidations outlive the caller
	list    Refresher
	details StaleMarker

	primed      atomic.Bool
	running     atomic.Bool
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewRevalidator subscribes to signal. Revalidations started by the signal run
// in the background with ctx. Close must be called to unsubscribe.
func NewRevalidator(ctx context.Context, list Refresher, details StaleMarker, signal *Signal) *Revalidator {
	r := &Revalidator{ //nolint:exhaustruct // zero values
		ctx:     ctx,
		list:    list,
		details: details,
	}

	r.unsubscribe = signal.Subscribe(r.observe)

	return r
}

func (r *Revalidator) observe(uint64) {
	if !r.primed.Swap(true) {
		return
	}

	if !r.running.CompareAndSwap(false, true) {
		return
	}

	r.details.MarkAllStale()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)

		r.finish(r.ctx)
	}()
}

// Revalidate runs one revalidation synchronously.
// It returns false without doing anything if another revalidation is running.
func (r *Revalidator) Revalidate(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	defer r.running.Store(false)

	r.details.MarkAllStale()
	r.finish(ctx)

	return true
}

func (r *Revalidator) finish(ctx context.Context) {
	r.list.Refresh(ctx)
	r.details.ClearFailed()
}

// IsRevalidating checks if a revalidation is running.
func (r *Revalidator) IsRevalidating() bool {
	return r.running.Load()
}

// Wait blocks until background revalidations finish.
func (r *Revalidator) Wait() {
	r.wg.Wait()
}

// Close unsubscribes from the signal and waits for background revalidations.
func (r *Revalidator) Close() {
	r.unsubscribe()
	r.wg.Wait()
}
