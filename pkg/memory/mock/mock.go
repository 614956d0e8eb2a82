// Package mock provides a scriptable [memory.SessionStore] for tests.
//
// Store keeps turns per call in memory, like the real stores do, and can be
// told to fail individual operations:
//
//	store := mock.New()
//	store.FailWrites(errors.New("db down"))
//	// ... run the call ...
//	if n := store.WriteAttempts(); n != 2 { ... }
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// Store is an in-memory turn log with injectable failures. The zero value
// is ready to use.
type Store struct {
	mu sync.Mutex

	turns map[string][]types.TranscriptEntry

	writeErr  error
	readErr   error
	searchErr error

	writes   int
	reads    []string
	searches []string
}

// New returns an empty Store.
func New() *Store { return &Store{} }

// Seed appends entries as if they had been written earlier. Seeding does
// not count as a write attempt.
func (s *Store) Seed(entries ...types.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.appendLocked(e)
	}
}

// FailWrites makes WriteEntry return err. nil restores success.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// FailReads makes GetRecent return err. nil restores success.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// FailSearches makes Search return err. nil restores success.
func (s *Store) FailSearches(err error) {
	s.mu.Lock()
	s.searchErr = err
	s.mu.Unlock()
}

// Entries returns a copy of the turns stored for callID.
func (s *Store) Entries(callID string) []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TranscriptEntry(nil), s.turns[callID]...)
}

// WriteAttempts reports how many times WriteEntry was called, failed
// attempts included.
func (s *Store) WriteAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reads returns the call IDs passed to GetRecent, in order.
func (s *Store) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reads...)
}

// Searches returns the queries passed to Search, in order.
func (s *Store) Searches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(_ context.Context, entry types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.appendLocked(entry)
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *Store) GetRecent(_ context.Context, callID string, limit int) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, callID)
	if s.readErr != nil {
		return nil, s.readErr
	}
	log := s.turns[callID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]types.TranscriptEntry{}, log...), nil
}

// Search implements [memory.SessionStore] with a case-insensitive substring
// match. Only CallID, Role and Limit of opts are honoured.
func (s *Store) Search(_ context.Context, query string, opts memory.SearchOpts) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, query)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	q := strings.ToLower(query)
	out := []types.TranscriptEntry{}
	for id, log := range s.turns {
		if opts.CallID != "" && id != opts.CallID {
			continue
		}
		for _, e := range log {
			if opts.Role != "" && e.Role != opts.Role {
				continue
			}
			if !strings.Contains(strings.ToLower(e.Text), q) {
				continue
			}
			out = append(out, e)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Store) appendLocked(e types.TranscriptEntry) {
	if s.turns == nil {
		s.turns = make(map[string][]types.TranscriptEntry)
	}
	s.turns[e.CallID] = append(s.turns[e.CallID], e)
}

var _ memory.SessionStore = (*Store)(nil)
