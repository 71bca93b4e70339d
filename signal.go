package swrcache

import "sync"

// Signal is a monotonically increasing mutation counter. Code that changes
// remote state calls Bump; revalidators subscribe to it.
//
// Deliveries are serialized: a subscriber sees the value of its subscription
// before any Bump value, and is never called concurrently with itself.
// Subscribers must not call Bump or Subscribe from their callback.
type Signal struct {
	deliver sync.Mutex

	mu      sync.Mutex
	version uint64
	nextID  uint64
	subs    map[uint64]func(uint64)
}

// NewSignal creates a Signal at version 0.
func NewSignal() *Signal {
	return &Signal{
		deliver: sync.Mutex{},
		mu:      sync.Mutex{},
		version: 0,
		nextID:  0,
		subs:    make(map[uint64]func(uint64)),
	}
}

// Version returns the current version.
func (s *Signal) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// Bump increments the version and notifies subscribers synchronously.
func (s *Signal) Bump() uint64 {
	s.mu.Lock()
	s.version++
	v := s.version
	subs := make([]func(uint64), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.deliver.Lock()
	defer s.deliver.Unlock()

	for _, fn := range subs {
		fn(v)
	}

	return v
}

// Subscribe registers fn and calls it with the current version right away.
// The returned function unregisters fn.
func (s *Signal) Subscribe(fn func(version uint64)) (unsubscribe func()) { //nolint:nonamedreturns // documents the result
	// Held from registration to the first call, so a racing Bump that already
	// sees fn delivers after it.
	s.deliver.Lock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	v := s.version
	s.mu.Unlock()

	fn(v)
	s.deliver.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subs, id)
		})
	}
}
