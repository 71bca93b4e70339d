package swrcache

import (
	"context"
	"sync"
	"time"
)

// mockLogger is a mock implementation of the ILogger interface for testing purposes.
type mockLogger struct {
	name string

	fetchErrors []string

	cacheHit  int
	cacheMiss int

	mu sync.Mutex
}

func (m *mockLogger) LogFetchError(_ context.Context, name, key string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.name = name
	m.fetchErrors = append(m.fetchErrors, key)
}

func (m *mockLogger) LogCacheHitRatio(_ context.Context, name string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.name = name
	if hit {
		m.cacheHit++
	} else {
		m.cacheMiss++
	}
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.fetchErrors...)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

var testConfig = Config{FreshTime: time.Second, GCTime: 5 * time.Second}
