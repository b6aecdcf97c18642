package activity

import (
	"context"
	"errors"
	"sync"
)

// MultiSink fans a batch out to every sink; one failure does not stop the rest
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, entries []Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps entries in memory. Used by tests and when no store is configured.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *MemorySink) Write(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Entries returns a copy of everything written so far
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
