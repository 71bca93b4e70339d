package swrcache

import (
	"strings"

	"golang.org/x/sync/singleflight"
)

// flight is the bookkeeping of one outstanding fetch.
type flight struct {
	version uint64
	epoch   uint64
}

// fetchGate keeps at most one fetch outstanding per key and tracks per-key
// versions so a fetch that outlived an invalidation cannot write its result.
//
// All methods must be called with the owner's lock held. The lock is also held
// while registering a call in group, which keeps inflight and the singleflight
// map in agreement: inflight[k] is set exactly while group has a live call for k.
type fetchGate struct {
	group    singleflight.Group
	inflight map[string]*flight
	versions map[string]uint64
	epoch    uint64
}

func newFetchGate() *fetchGate {
	return &fetchGate{
		group:    singleflight.Group{},
		inflight: make(map[string]*flight),
		versions: make(map[string]uint64),
		epoch:    0,
	}
}

// begin returns the outstanding flight for key, or registers a new one
// capturing the current version.
func (g *fetchGate) begin(key string) (*flight, bool) {
	if f, ok := g.inflight[key]; ok {
		return f, true
	}

	f := &flight{version: g.versions[key], epoch: g.epoch}
	g.inflight[key] = f

	return f, false
}

// current reports whether nothing invalidated key since f began.
func (g *fetchGate) current(key string, f *flight) bool {
	return f.epoch == g.epoch && g.versions[key] == f.version
}

// finish drops f's bookkeeping unless a newer flight already replaced it.
func (g *fetchGate) finish(key string, f *flight) {
	if g.inflight[key] != f {
		return
	}

	delete(g.inflight, key)
	g.group.Forget(key)
}

func (g *fetchGate) fetching(key string) bool {
	_, ok := g.inflight[key]
	return ok
}

// invalidate bumps the version of key and detaches its outstanding flight.
// The detached fetch keeps running; its result fails the version check.
func (g *fetchGate) invalidate(key string) {
	g.versions[key]++

	if _, ok := g.inflight[key]; ok {
		delete(g.inflight, key)
		g.group.Forget(key)
	}
}

// invalidatePrefix detaches every outstanding flight under prefix.
func (g *fetchGate) invalidatePrefix(prefix string) {
	for key := range g.inflight {
		if strings.HasPrefix(key, prefix) {
			g.invalidate(key)
		}
	}
}

// reset forgets every flight and version. The epoch survives so flights
// started before the reset still fail the version check.
func (g *fetchGate) reset() {
	for key := range g.inflight {
		g.group.Forget(key)
	}

	g.inflight = make(map[string]*flight)
	g.versions = make(map[string]uint64)
	g.epoch++
}
