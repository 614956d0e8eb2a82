// Package inmem provides a process-local [memory.SessionStore]. It is the
// default history store when no database is configured; entries live until
// [Store.Forget] is called for the call or the process exits.
package inmem

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/types"
)

var _ memory.SessionStore = (*Store)(nil)

// Store keeps turns in memory, keyed by call id.
type Store struct {
	mu    sync.Mutex
	calls map[string][]types.TranscriptEntry
	max   int
}

// Option configures a [Store].
type Option func(*Store)

// WithMaxEntries caps the entries kept per call; the oldest are dropped
// first. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.max = n }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{calls: make(map[string][]types.TranscriptEntry)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(ctx context.Context, entry types.TranscriptEntry) error {
	if entry.CallID == "" {
		return errors.New("inmem: write entry: call id must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.calls[entry.CallID], entry)
	if s.max > 0 && len(log) > s.max {
		log = append([]types.TranscriptEntry(nil), log[len(log)-s.max:]...)
	}
	s.calls[entry.CallID] = log
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *Store) GetRecent(ctx context.Context, callID string, limit int) ([]types.TranscriptEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.calls[callID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]types.TranscriptEntry, len(log))
	copy(out, log)
	return out, nil
}

// Search implements [memory.SessionStore]. Every whitespace-separated query
// term must appear in the entry text (case-insensitive).
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]types.TranscriptEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []types.TranscriptEntry{}
	for id, log := range s.calls {
		if opts.CallID != "" && id != opts.CallID {
			continue
		}
		for _, e := range log {
			if !matches(e, terms, opts) {
				continue
			}
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b types.TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Forget drops every entry of callID.
func (s *Store) Forget(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}

func matches(e types.TranscriptEntry, terms []string, opts memory.SearchOpts) bool {
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
		return false
	}
	text := strings.ToLower(e.Text)
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
