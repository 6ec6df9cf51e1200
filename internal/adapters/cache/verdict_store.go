// Package cache provides the in-memory verdict store and the URL cache.
// Both live for the life of the running process; nothing is persisted.
package cache

import (
	"sync"

	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

type verdictEntry struct {
	verdict *core.Verdict
	payload core.Payload
}

// VerdictStore is the in-memory implementation of core.VerdictStore. It also
// tracks the in-flight set so that any number of scan passes observing the
// same uncached key while a call is pending issue at most one analysis.
type VerdictStore struct {
	mu       sync.RWMutex
	entries  map[core.ItemKey]verdictEntry
	inFlight map[core.ItemKey]struct{}
	logger   *zap.Logger
}

// NewVerdictStore creates an empty verdict store.
func NewVerdictStore(logger *zap.Logger) *VerdictStore {
	return &VerdictStore{
		entries:  make(map[core.ItemKey]verdictEntry),
		inFlight: make(map[core.ItemKey]struct{}),
		logger:   logger,
	}
}

// Get returns the cached verdict for a key.
func (s *VerdictStore) Get(key core.ItemKey) (*core.Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.verdict, true
}

// Has reports whether a verdict is cached for the key.
func (s *VerdictStore) Has(key core.ItemKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[key]
	return ok
}

// Put stores a verdict and its payload. Later writes win.
func (s *VerdictStore) Put(key core.ItemKey, v *core.Verdict, p core.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = verdictEntry{verdict: v, payload: p}
	delete(s.inFlight, key)
}

// TryMarkInFlight marks the key as awaiting analysis. It returns false when
// the key is already in flight or already cached.
func (s *VerdictStore) TryMarkInFlight(key core.ItemKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[key]; ok {
		return false
	}
	if _, ok := s.entries[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

// Resolve stores the verdict and clears the in-flight mark in one step, so
// a key is never observably in both states.
func (s *VerdictStore) Resolve(key core.ItemKey, v *core.Verdict, p core.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = verdictEntry{verdict: v, payload: p}
	delete(s.inFlight, key)
	s.logger.Debug("verdict cached",
		zap.String("key", string(key)),
		zap.String("level", string(v.Level)),
		zap.Int("score", v.Score),
		zap.Bool("degraded", v.Degraded))
}

// ClearInFlight removes the in-flight mark without storing a verdict.
func (s *VerdictStore) ClearInFlight(key core.ItemKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
}

// Payload returns the extracted content stored with a verdict.
func (s *VerdictStore) Payload(key core.ItemKey) (core.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return core.Payload{}, false
	}
	return e.payload, true
}

// Len returns the number of cached verdicts.
func (s *VerdictStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
