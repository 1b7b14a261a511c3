/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the number of runs kept in memory.
const DefaultCapacity = 50

// Run summarizes one scheduling pass.
type Run struct {
	Trigger     string        `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Considered  int           `json:"considered"`
	Scheduled   int           `json:"scheduled"`
	Unscheduled int           `json:"unscheduled"`
	Error       string        `json:"error,omitempty"`
}

// Store keeps recent runs for status reporting.
type Store struct {
	mu       sync.RWMutex
	capacity int
	recent   []Run
}

// NewStore creates a run history store.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, recent: make([]Run, 0, capacity)}
}

// Add records a run, evicting the oldest when full.
func (s *Store) Add(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recent) == s.capacity {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, run)
}

// Recent returns runs newest first.
func (s *Store) Recent() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, len(s.recent))
	for i, r := range s.recent {
		out[len(s.recent)-1-i] = r
	}
	return out
}

// Last returns the most recent run.
func (s *Store) Last() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.recent) == 0 {
		return Run{}, false
	}
	return s.recent[len(s.recent)-1], true
}

// Prune removes runs started before cutoff.
func (s *Store) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.recent[:0]
	for _, r := range s.recent {
		if r.StartedAt.After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	s.recent = filtered
}
