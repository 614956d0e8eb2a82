// Package memory defines the conversation history store used by phone calls.
//
// Each call keeps a time-ordered, append-only log of text turns
// ([types.TranscriptEntry]): what the caller said and what the assistant
// replied. The orchestrator feeds the most recent turns to the LLM so replies
// stay in context. Raw audio is never stored.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/MrWong99/phonebridge/pkg/types"
)

// SearchOpts configures a keyword search over stored turns.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// CallID restricts the search to a single call.
	// An empty string searches across all calls.
	CallID string

	// After filters entries recorded after this instant (exclusive).
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	Before time.Time

	// Role restricts results to one author. Empty matches both.
	Role types.Role

	// Limit caps the number of results returned. Zero means no cap.
	Limit int
}

// SessionStore is the per-call turn log.
type SessionStore interface {
	// WriteEntry appends entry to the log of entry.CallID.
	// entry.CallID must be non-empty.
	WriteEntry(ctx context.Context, entry types.TranscriptEntry) error

	// GetRecent returns the last limit entries of callID in chronological
	// order (oldest first). limit <= 0 returns every entry.
	// Returns an empty (non-nil) slice when the call has no entries.
	GetRecent(ctx context.Context, callID string, limit int) ([]types.TranscriptEntry, error)

	// Search performs a keyword search over stored entries' Text.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, opts SearchOpts) ([]types.TranscriptEntry, error)
}

// ToMessages converts turns into LLM conversation messages. Caller turns
// become "user" messages and assistant turns "assistant" messages.
func ToMessages(entries []types.TranscriptEntry) []types.Message {
	msgs := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		role := "user"
		if e.Role == types.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, types.Message{Role: role, Content: e.Text})
	}
	return msgs
}
