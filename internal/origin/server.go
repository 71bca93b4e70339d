// Package origin is an in-process remote source for the demo: a small item
// catalogue served over HTTP with configurable latency and failure injection,
// and a client for it.
package origin

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// Summary is the list representation of an item.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Revision int    `json:"revision"`
}

// Item is the detail representation of an item.
type Item struct {
	Summary
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Options configures a Server.
type Options struct {
	Items       int
	Latency     time.Duration
	FailureRate float64
}

// Stats counts the requests served, by route.
type Stats struct {
	List   int64
	Detail int64
	Update int64
	Failed int64
}

var errInjected = errors.New("injected failure")

// Server serves the item catalogue.
type Server struct {
	opts Options

	mu    sync.RWMutex
	items map[string]*Item

	list, detail, update, failed atomic.Int64
}

// NewServer creates a catalogue with opts.Items items.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:  opts,
		items: make(map[string]*Item, opts.Items),
	}

	now := time.Now()
	for i := 1; i <= opts.Items; i++ {
		id := fmt.Sprintf("item-%03d", i)
		s.items[id] = &Item{
			Summary:     Summary{ID: id, Name: fmt.Sprintf("Item %d", i), Revision: 1},
			Description: fmt.Sprintf("Description of item %d", i),
			UpdatedAt:   now,
		}
	}

	return s
}

// Handler returns the HTTP routes of the catalogue.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.simulate)
	r.Get("/items", s.handleList)
	r.Get("/items/{id}", s.handleDetail)
	r.Put("/items/{id}", s.handleUpdate)

	return r
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return Stats{
		List:   s.list.Load(),
		Detail: s.detail.Load(),
		Update: s.update.Load(),
		Failed: s.failed.Load(),
	}
}

// IDs returns the item ids in order.
func (s *Server) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// simulate adds latency to every request and fails reads at the configured rate.
func (s *Server) simulate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}

		if r.Method == http.MethodGet && s.opts.FailureRate > 0 && rand.Float64() < s.opts.FailureRate { //nolint:gosec // simulation
			s.failed.Add(1)
			http.Error(w, errInjected.Error(), http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.list.Add(1)

	s.mu.RLock()
	summaries := make([]Summary, 0, len(s.items))
	for _, item := range s.items {
		summaries = append(summaries, item.Summary)
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	s.detail.Add(1)

	s.mu.RLock()
	item, ok := s.items[chi.URLParam(r, "id")]
	var out Item
	if ok {
		out = *item
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

type updateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.update.Add(1)

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	item, ok := s.items[chi.URLParam(r, "id")]
	var out Item
	if ok {
		item.Name = req.Name
		item.Description = req.Description
		item.Revision++
		item.UpdatedAt = time.Now()
		out = *item
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
