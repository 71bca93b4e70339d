package swrcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type detailTestPayload struct {
	id      string
	version int
}

// detailSource is a scripted remote source of detail payloads.
type detailSource struct {
	mu      sync.Mutex
	calls   map[string]int
	version int
	failing map[string]bool
	gates   map[string]chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newDetailSource() *detailSource {
	return &detailSource{
		calls:   make(map[string]int),
		version: 1,
		failing: make(map[string]bool),
		gates:   make(map[string]chan struct{}),
	}
}

func (s *detailSource) fetch(_ context.Context, id string) (detailTestPayload, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)

	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[id]++
	gate := s.gates[id]
	fail := s.failing[id]
	version := s.version
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if fail {
		return detailTestPayload{}, errors.New("detail unavailable")
	}

	return detailTestPayload{id: id, version: version}, nil
}

func (s *detailSource) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[id]
}

func (s *detailSource) setFailing(id string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failing[id] = fail
}

func (s *detailSource) setVersion(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version = v
}

// block makes fetches of id wait until the returned function is called.
func (s *detailSource) block(id string) (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.gates[id] = gate
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.gates, id)
		s.mu.Unlock()
		close(gate)
	}
}

func newTestDetails(t *testing.T, src *detailSource, opts ...Option) *Details[string, detailTestPayload] {
	t.Helper()

	d, err := NewDetails(src.fetch, opts...)
	require.NoError(t, err)

	return d
}

func TestDetails_PreloadDetails(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a", "b")

	require.True(t, d.IsAvailable("a"))
	require.True(t, d.IsAvailable("b"))
	require.Equal(t, StateAvailable, d.State("a"))

	payload, ok := d.GetDetails("a")
	require.True(t, ok)
	require.Equal(t, detailTestPayload{id: "a", version: 1}, payload)

	// Available ids are not fetched again
	d.PreloadDetails(context.Background(), "a", "b")
	require.Equal(t, 1, src.callCount("a"))
	require.Equal(t, 1, src.callCount("b"))

	_, ok = d.GetDetails("c")
	require.False(t, ok)
	require.Equal(t, StateAbsent, d.State("c"))
}

func TestDetails_PreloadDetailsBatches(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	ids := []string{"1", "2", "3", "4", "5", "6", "7", "1"}
	d.PreloadDetails(context.Background(), ids...)

	for _, id := range ids {
		require.True(t, d.IsAvailable(id))
		require.Equal(t, 1, src.callCount(id))
	}

	require.LessOrEqual(t, src.maxActive.Load(), int32(3))
}

func TestDetails_PreloadDetailsBatchSize(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src, WithBatchSize(1))

	d.PreloadDetails(context.Background(), "1", "2", "3")
	require.Equal(t, int32(1), src.maxActive.Load())

	_, err := NewDetails(src.fetch, WithBatchSize(0))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetails_StaleKeepsOldPayloadDuringRefetch(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a")
	d.MarkAllStale()

	require.True(t, d.IsStale("a"))
	require.True(t, d.IsAvailable("a"))

	src.setVersion(2)
	release := src.block("a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PreloadDetails(context.Background(), "a")
	}()

	require.Eventually(t, func() bool { return d.IsLoading("a") }, time.Second, time.Millisecond)

	// The old payload is served while the refetch runs
	payload, ok := d.GetDetails("a")
	require.True(t, ok)
	require.Equal(t, 1, payload.version)

	// A concurrent preload does not fetch a loading id again
	d.PreloadDetails(context.Background(), "a")

	release()
	<-done

	require.Equal(t, 2, src.callCount("a"))
	require.False(t, d.IsStale("a"))

	payload, ok = d.GetDetails("a")
	require.True(t, ok)
	require.Equal(t, 2, payload.version)
}

func TestDetails_Failure(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	logger := &mockLogger{}
	d := newTestDetails(t, src, WithLogger("details", logger))

	src.setFailing("a", true)
	d.PreloadDetails(context.Background(), "a", "b")

	require.True(t, d.IsFailed("a"))
	require.False(t, d.IsLoading("a"))
	require.False(t, d.IsAvailable("a"))
	require.True(t, d.IsAvailable("b"))
	require.Equal(t, []string{"a"}, logger.errors())

	// A failed id is retried by a later preload
	src.setFailing("a", false)
	d.PreloadDetails(context.Background(), "a")
	require.True(t, d.IsAvailable("a"))
	require.False(t, d.IsFailed("a"))
	require.Equal(t, 2, src.callCount("a"))
}

func TestDetails_FailedRefetchKeepsPayload(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a")
	d.MarkAllStale()

	src.setFailing("a", true)
	d.PreloadDetails(context.Background(), "a")

	require.True(t, d.IsFailed("a"))

	payload, ok := d.GetDetails("a")
	require.True(t, ok)
	require.Equal(t, 1, payload.version)

	// Failed ids are not swept by MarkAllStale
	d.MarkAllStale()
	require.True(t, d.IsFailed("a"))

	// Clearing failures makes the old payload stale
	d.ClearFailed()
	require.True(t, d.IsStale("a"))
}

func TestDetails_ClearFailed(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	src.setFailing("a", true)
	d.PreloadDetails(context.Background(), "a", "b")
	require.True(t, d.IsFailed("a"))

	d.ClearFailed()
	require.Equal(t, StateAbsent, d.State("a"))
	require.Equal(t, StateAvailable, d.State("b"))
}

func TestDetails_MarkAllStaleSkipsLoading(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a")

	release := src.block("b")

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PreloadDetails(context.Background(), "b")
	}()

	require.Eventually(t, func() bool { return d.IsLoading("b") }, time.Second, time.Millisecond)

	d.MarkAllStale()
	require.True(t, d.IsStale("a"))
	require.True(t, d.IsLoading("b"))

	release()
	<-done

	require.Equal(t, StateAvailable, d.State("b"))
}

func TestDetails_InvalidateDiscardsRunningFetch(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a")
	d.Invalidate("a")
	require.Equal(t, StateAbsent, d.State("a"))

	release := src.block("b")

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PreloadDetails(context.Background(), "b")
	}()

	require.Eventually(t, func() bool { return d.IsLoading("b") }, time.Second, time.Millisecond)

	d.Invalidate("b")
	release()
	<-done

	require.Equal(t, StateAbsent, d.State("b"))

	d.PreloadDetails(context.Background(), "a", "b")
	d.Clear()
	require.False(t, d.IsAvailable("a"))
	require.False(t, d.IsAvailable("b"))
}

func TestDetails_PreloadDetailsCancelled(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src, WithBatchSize(1))

	d.PreloadDetails(context.Background(), "b")
	d.MarkAllStale()

	ctx, cancel := context.WithCancel(context.Background())
	release := src.block("a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PreloadDetails(ctx, "a", "b", "c")
	}()

	require.Eventually(t, func() bool { return src.callCount("a") == 1 }, time.Second, time.Millisecond)
	require.True(t, d.IsLoading("b"))
	require.True(t, d.IsLoading("c"))

	cancel()
	release()
	<-done

	// Batches not started return to their previous state
	require.Equal(t, StateAvailable, d.State("a"))
	require.Equal(t, StateStale, d.State("b"))
	require.Equal(t, StateAbsent, d.State("c"))
	require.Equal(t, 1, src.callCount("b"))
	require.Equal(t, 0, src.callCount("c"))
}

func TestDetails_CancelledFetchIsNotAFailure(t *testing.T) {
	t.Parallel()

	var (
		hang    atomic.Bool
		version atomic.Int32
	)

	started := make(chan struct{}, 2)

	d, err := NewDetails(func(ctx context.Context, id string) (detailTestPayload, error) {
		if hang.Load() {
			started <- struct{}{}
			<-ctx.Done()
			return detailTestPayload{}, ctx.Err()
		}
		return detailTestPayload{id: id, version: int(version.Add(1))}, nil
	})
	require.NoError(t, err)

	d.PreloadDetails(context.Background(), "b")
	d.MarkAllStale()

	hang.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.PreloadDetails(ctx, "a", "b")
	}()

	<-started
	<-started

	waited := make(chan bool)
	go func() {
		_, ok := d.WaitForDetails(context.Background(), "a", time.Minute)
		waited <- ok
	}()

	cancel()
	<-done

	require.Equal(t, StateAbsent, d.State("a"))
	require.Equal(t, StateStale, d.State("b"))

	payload, ok := d.GetDetails("b")
	require.True(t, ok)
	require.Equal(t, 1, payload.version)

	// Another consumer still waiting on the id is served by a later load
	hang.Store(false)
	d.PreloadDetails(context.Background(), "a", "b")

	require.True(t, <-waited)
	require.Equal(t, StateAvailable, d.State("a"))
	require.Equal(t, StateAvailable, d.State("b"))
}

func TestDetails_WaitForDetails(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	d.PreloadDetails(context.Background(), "a")

	// Available: returns at once
	payload, ok := d.WaitForDetails(context.Background(), "a", time.Hour)
	require.True(t, ok)
	require.Equal(t, "a", payload.id)

	// Never requested: times out
	start := time.Now()
	_, ok = d.WaitForDetails(context.Background(), "missing", 20*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// Loaded while waiting
	release := src.block("b")
	go d.PreloadDetails(context.Background(), "b")

	waited := make(chan bool)
	go func() {
		_, ok := d.WaitForDetails(context.Background(), "b", time.Minute)
		waited <- ok
	}()

	require.Eventually(t, func() bool { return d.IsLoading("b") }, time.Second, time.Millisecond)
	release()
	require.True(t, <-waited)
}

func TestDetails_WaitForDetailsFailed(t *testing.T) {
	t.Parallel()

	src := newDetailSource()
	d := newTestDetails(t, src)

	src.setFailing("a", true)
	d.PreloadDetails(context.Background(), "a")

	// Failed: returns at once
	_, ok := d.WaitForDetails(context.Background(), "a", time.Hour)
	require.False(t, ok)

	// Failing while waiting
	release := src.block("b")
	src.setFailing("b", true)
	go d.PreloadDetails(context.Background(), "b")
	require.Eventually(t, func() bool { return d.IsLoading("b") }, time.Second, time.Millisecond)

	waited := make(chan bool)
	go func() {
		_, ok := d.WaitForDetails(context.Background(), "b", time.Hour)
		waited <- ok
	}()

	release()
	require.False(t, <-waited)

	// Cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = d.WaitForDetails(ctx, "missing", time.Hour)
	require.False(t, ok)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "absent", StateAbsent.String())
	require.Equal(t, "loading", StateLoading.String())
	require.Equal(t, "available", StateAvailable.String())
	require.Equal(t, "stale", StateStale.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "State(42)", State(42).String())
}
