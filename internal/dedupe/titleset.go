// Package dedupe tracks which article titles have already been kept.
package dedupe

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// TitleSet remembers title keys by their 64-bit hash, so memory grows with
// the number of titles rather than their length. Two distinct keys sharing a
// hash would be treated as duplicates.
type TitleSet struct {
	mu    sync.RWMutex
	items map[uint64]struct{}
}

// NewTitleSet creates a set sized for roughly capacity titles.
func NewTitleSet(capacity int) *TitleSet {
	if capacity < 0 {
		capacity = 0
	}
	return &TitleSet{items: make(map[uint64]struct{}, capacity)}
}

// Seen reports whether key was marked before.
func (s *TitleSet) Seen(key string) bool {
	h := xxhash.Sum64String(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[h]
	return ok
}

// Mark records key.
func (s *TitleSet) Mark(key string) {
	h := xxhash.Sum64String(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[h] = struct{}{}
}

// MarkIfAbsent records key and reports true when it was not present yet.
func (s *TitleSet) MarkIfAbsent(key string) bool {
	h := xxhash.Sum64String(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[h]; ok {
		return false
	}
	s.items[h] = struct{}{}
	return true
}

// Len returns the number of distinct keys.
func (s *TitleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
