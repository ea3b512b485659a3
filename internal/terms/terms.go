// Package terms holds the canonical term normalization and the per-session
// set of terms that have already been explained.
package terms

import (
	"strings"
	"sync"

	"golang.org/x/text/width"
)

// Normalize returns the dedup key for a term: trimmed, full-width letters and
// digits folded to half-width, lowercased.
func Normalize(term string) string {
	folded := width.Fold.String(strings.TrimSpace(term))
	return strings.ToLower(folded)
}

// ExplainedSet tracks normalized term keys in first-seen order.
// It is safe for concurrent use.
type ExplainedSet struct {
	mu    sync.RWMutex
	keys  map[string]struct{}
	order []string
}

func NewExplainedSet() *ExplainedSet {
	return &ExplainedSet{keys: make(map[string]struct{})}
}

// Add normalizes term and records it. It reports false if the key was
// already present or normalizes to empty.
func (s *ExplainedSet) Add(term string) (string, bool) {
	key := Normalize(term)
	if key == "" {
		return key, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return key, false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return key, true
}

func (s *ExplainedSet) Has(term string) bool {
	key := Normalize(term)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// List returns the keys in the order they were added.
func (s *ExplainedSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *ExplainedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *ExplainedSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
	s.order = nil
}
