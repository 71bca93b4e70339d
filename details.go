package swrcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of one detail id.
//
//	Absent -> Loading -> Available | Failed
//	Available -> Stale -> Loading
//	Failed -> Loading
type State int

const (
	// StateAbsent means nothing was ever loaded for the id.
	StateAbsent State = iota
	// StateLoading means a fetch is running. A previously loaded payload stays readable.
	StateLoading
	// StateAvailable means the payload was loaded and not marked stale since.
	StateAvailable
	// StateStale means the payload is readable but must be fetched again on next preload.
	StateStale
	// StateFailed means the last fetch failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateAvailable:
		return "available"
	case StateStale:
		return "stale"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DetailFetcher loads the detail payload of one id.
type DetailFetcher[ID comparable, D any] func(ctx context.Context, id ID) (D, error)

// record is replaced, never mutated, on each transition. A fetch only applies
// its result while the record it started from is still the current one.
type record[D any] struct {
	state      State
	payload    D
	hasPayload bool
}

// Details manages a keyed collection of detail payloads with per-id state.
type Details[ID comparable, D any] struct {
	op    options
	fetch DetailFetcher[ID, D]
	clone func(D) D

	mu      sync.Mutex
	records map[ID]*record[D]
	changed chan struct{}
}

// NewDetails creates a new instance of Details.
func NewDetails[ID comparable, D any](fetch DetailFetcher[ID, D], opts ...Option) (*Details[ID, D], error) {
	op := newOptions(opts)
	if op.batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be greater than 0", ErrInvalidConfig)
	}

	return &Details[ID, D]{
		op:      op,
		fetch:   fetch,
		clone:   cloneValue[D],
		mu:      sync.Mutex{},
		records: make(map[ID]*record[D]),
		changed: make(chan struct{}),
	}, nil
}

type pendingLoad[ID comparable, D any] struct {
	id      ID
	prev    *record[D]
	loading *record[D]
}

// PreloadDetails fetches the ids that are absent, stale or failed and not already loading.
// Fetches run in batches: batches one after another, the ids of a batch concurrently.
// A failed fetch marks its id failed and keeps the previous payload readable.
// If ctx is cancelled, ids of batches not started and ids whose fetch failed because of the
// cancellation return to their previous state rather than being marked failed.
func (d *Details[ID, D]) PreloadDetails(ctx context.Context, ids ...ID) {
	pending := d.beginLoads(ids)

	for start := 0; start < len(pending); start += d.op.batchSize {
		if ctx.Err() != nil {
			d.abortLoads(pending[start:])
			return
		}

		batch := pending[start:min(start+d.op.batchSize, len(pending))]

		var g errgroup.Group
		for _, p := range batch {
			g.Go(func() error {
				d.load(ctx, p)
				return nil
			})
		}

		_ = g.Wait()
	}
}

func (d *Details[ID, D]) beginLoads(ids []ID) []pendingLoad[ID, D] {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := make([]pendingLoad[ID, D], 0, len(ids))
	for _, id := range ids {
		prev := d.records[id]
		if prev != nil && (prev.state == StateAvailable || prev.state == StateLoading) {
			continue
		}

		loading := &record[D]{state: StateLoading}
		if prev != nil {
			loading.payload, loading.hasPayload = prev.payload, prev.hasPayload
		}

		d.records[id] = loading
		pending = append(pending, pendingLoad[ID, D]{id: id, prev: prev, loading: loading})
	}

	if len(pending) > 0 {
		d.notify()
	}

	return pending
}

func (d *Details[ID, D]) load(ctx context.Context, p pendingLoad[ID, D]) {
	ctx, span := d.op.tracer.Start(ctx, "swrcache.detail.fetch", trace.WithAttributes(
		attribute.String("swrcache.cache", d.op.name),
		attribute.String("swrcache.id", fmt.Sprint(p.id)),
	))
	defer span.End()

	payload, err := d.fetch(ctx, p.id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")

		if ctx.Err() == nil && d.op.logger != nil {
			d.op.logger.LogFetchError(ctx, d.op.name, fmt.Sprint(p.id), err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.records[p.id] != p.loading {
		span.AddEvent("result discarded after invalidation")
		return
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// A cancelled caller leaves the id as it found it.
		d.restore(p)
	case err != nil:
		d.records[p.id] = &record[D]{state: StateFailed, payload: p.loading.payload, hasPayload: p.loading.hasPayload}
	default:
		d.records[p.id] = &record[D]{state: StateAvailable, payload: d.clone(payload), hasPayload: true}
	}

	d.notify()
}

func (d *Details[ID, D]) abortLoads(pending []pendingLoad[ID, D]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range pending {
		if d.records[p.id] == p.loading {
			d.restore(p)
		}
	}

	d.notify()
}

// restore puts back the record p replaced. Must be called with mu held.
func (d *Details[ID, D]) restore(p pendingLoad[ID, D]) {
	if p.prev == nil {
		delete(d.records, p.id)
	} else {
		d.records[p.id] = p.prev
	}
}

// GetDetails returns the payload of id, including a stale one.
func (d *Details[ID, D]) GetDetails(id ID) (D, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.payload(id)
}

func (d *Details[ID, D]) payload(id ID) (D, bool) {
	r, ok := d.records[id]
	if !ok || !r.hasPayload {
		var zero D
		return zero, false
	}

	return d.clone(r.payload), true
}

// State returns the lifecycle state of id.
func (d *Details[ID, D]) State(id ID) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.records[id]; ok {
		return r.state
	}

	return StateAbsent
}

// IsLoading checks if a fetch for id is running.
func (d *Details[ID, D]) IsLoading(id ID) bool {
	return d.State(id) == StateLoading
}

// IsAvailable checks if a payload of id is readable, fresh or stale.
func (d *Details[ID, D]) IsAvailable(id ID) bool {
	_, ok := d.GetDetails(id)
	return ok
}

// IsStale checks if id was marked stale and no reload has started since.
// A stale id that is being reloaded reports StateLoading, so IsStale turns false
// when the refetch starts, not when it resolves; GetDetails keeps returning the old payload meanwhile.
func (d *Details[ID, D]) IsStale(id ID) bool {
	return d.State(id) == StateStale
}

// IsFailed checks if the last fetch of id failed.
func (d *Details[ID, D]) IsFailed(id ID) bool {
	return d.State(id) == StateFailed
}

// WaitForDetails waits until a payload of id is readable. It returns false
// right away if id failed, and when the timeout elapses or ctx is done.
func (d *Details[ID, D]) WaitForDetails(ctx context.Context, id ID, timeout time.Duration) (D, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero D

	for {
		d.mu.Lock()
		payload, ok := d.payload(id)
		r := d.records[id]
		changed := d.changed
		d.mu.Unlock()

		if ok {
			return payload, true
		}

		if r != nil && r.state == StateFailed {
			return zero, false
		}

		select {
		case <-changed:
		case <-timer.C:
			return zero, false
		case <-ctx.Done():
			return zero, false
		}
	}
}

// MarkAllStale marks every available id stale. Payloads stay readable.
// Loading and failed ids are left alone.
func (d *Details[ID, D]) MarkAllStale() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, r := range d.records {
		if r.state == StateAvailable {
			d.records[id] = &record[D]{state: StateStale, payload: r.payload, hasPayload: true}
		}
	}

	d.notify()
}

// ClearFailed forgets fetch failures. A failed id with a previous payload
// becomes stale, one without returns to absent.
func (d *Details[ID, D]) ClearFailed() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, r := range d.records {
		if r.state != StateFailed {
			continue
		}

		if r.hasPayload {
			d.records[id] = &record[D]{state: StateStale, payload: r.payload, hasPayload: true}
		} else {
			delete(d.records, id)
		}
	}

	d.notify()
}

// Invalidate removes id. A fetch of id that is running is discarded when it completes.
func (d *Details[ID, D]) Invalidate(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, id)
	d.notify()
}

// Clear removes every id.
func (d *Details[ID, D]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = make(map[ID]*record[D])
	d.notify()
}

// notify wakes every waiter. Must be called with mu held.
func (d *Details[ID, D]) notify() {
	close(d.changed)
	d.changed = make(chan struct{})
}
