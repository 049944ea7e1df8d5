// Package state holds the gateway's shared mutable state: the last-known
// tick/bar per instrument and the subscription set.
package state

import (
	"context"
	"sync"

	"fxgateway/internal/publish"
	"fxgateway/models"
)

// Store keeps the most recent tick and bar per instrument. RecordBar also
// persists and publishes the bar; both side effects happen under the
// instrument's lock so a published bar is always reflected in LastBar.
type Store struct {
	pub *publish.Publisher

	mu      sync.RWMutex
	entries map[string]*instrumentState
}

type instrumentState struct {
	mu       sync.Mutex
	lastTick *models.Tick
	lastBar  *models.Bar
}

func NewStore(pub *publish.Publisher) *Store {
	return &Store{
		pub:     pub,
		entries: make(map[string]*instrumentState),
	}
}

func (s *Store) entry(instrument string) *instrumentState {
	s.mu.RLock()
	e, ok := s.entries[instrument]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[instrument]; ok {
		return e
	}
	e = &instrumentState{}
	s.entries[instrument] = e
	return e
}

func (s *Store) RecordTick(instrument string, tick models.Tick) {
	e := s.entry(instrument)
	e.mu.Lock()
	e.lastTick = &tick
	e.mu.Unlock()
}

// RecordBar updates the in-memory bar and, while still holding the
// instrument's lock, pushes it to the bounded k-line buffer and publishes it.
// The first failure is returned; the in-memory update always sticks.
func (s *Store) RecordBar(ctx context.Context, instrument string, bar models.Bar) error {
	e := s.entry(instrument)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastBar = &bar
	if err := s.pub.AddBarToKLine(ctx, bar); err != nil {
		return err
	}
	return s.pub.PublishBar(ctx, bar)
}

func (s *Store) LastTick(instrument string) (models.Tick, bool) {
	s.mu.RLock()
	e, ok := s.entries[instrument]
	s.mu.RUnlock()
	if !ok {
		return models.Tick{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTick == nil {
		return models.Tick{}, false
	}
	return *e.lastTick, true
}

func (s *Store) LastBar(instrument string) (models.Bar, bool) {
	s.mu.RLock()
	e, ok := s.entries[instrument]
	s.mu.RUnlock()
	if !ok {
		return models.Bar{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastBar == nil {
		return models.Bar{}, false
	}
	return *e.lastBar, true
}

// SubscribedKeys returns the instruments with recorded state.
func (s *Store) SubscribedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
