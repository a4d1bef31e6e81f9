// Package memory keeps the most recent crawl results in process.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/humancrawl/internal/crawler"
)

// DefaultCapacity bounds the store when no capacity is given.
const DefaultCapacity = 500

// Store is a bounded, newest-last buffer of results.
type Store struct {
	mu       sync.RWMutex
	capacity int
	results  []crawler.Result
}

// New returns a Store that keeps at most capacity results.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Save records result without its body, evicting the oldest once full.
// Bodies are fingerprinted by ContentHash and never served from history.
func (s *Store) Save(_ context.Context, result crawler.Result) error {
	result.Body = nil
	result.Headers = result.Headers.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == s.capacity {
		copy(s.results, s.results[1:])
		s.results = s.results[:len(s.results)-1]
	}
	s.results = append(s.results, result)
	return nil
}

// Recent returns up to n results, newest first. n <= 0 returns all.
func (s *Store) Recent(n int) []crawler.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.results) {
		n = len(s.results)
	}
	out := make([]crawler.Result, 0, n)
	for i := len(s.results) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.results[i])
	}
	return out
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Clear drops every stored result.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = nil
}
