package extcal

import (
	"context"
	"sync"
	"time"
)

// Static serves a fixed set of events. It backs the memory store driver and
// tests.
type Static struct {
	mu     sync.RWMutex
	events map[int64][]Event
}

func NewStatic() *Static {
	return &Static{events: make(map[int64][]Event)}
}

func (s *Static) Add(professionalID int64, events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[professionalID] = append(s.events[professionalID], events...)
}

func (s *Static) ListBusyBlocks(_ context.Context, professionalID int64, from, to time.Time) ([]Block, error) {
	s.mu.RLock()
	events := append([]Event(nil), s.events[professionalID]...)
	s.mu.RUnlock()
	return Expand(professionalID, "static", events, from, to)
}
