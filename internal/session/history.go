package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// charsPerToken is the ratio used to estimate the token size of a turn.
const charsPerToken = 4

// history reads and appends a call's turns. Store failures are logged and
// swallowed: an outage of the history backend degrades replies to
// context-free ones but never fails the call.
type history struct {
	store  memory.SessionStore
	callID string
	log    *slog.Logger

	// degraded is true while the last store operation failed. Only
	// transitions are logged so a dead backend does not flood the log.
	degraded atomic.Bool
}

func newHistory(store memory.SessionStore, callID string, log *slog.Logger) *history {
	return &history{store: store, callID: callID, log: log}
}

// recent returns up to turns previous turns as LLM messages, oldest first,
// trimmed to maxTokens.
func (h *history) recent(ctx context.Context, turns, maxTokens int) []types.Message {
	entries, err := h.store.GetRecent(ctx, h.callID, turns)
	if h.observe("read", err) {
		return nil
	}
	return TrimToBudget(memory.ToMessages(entries), maxTokens)
}

// append writes entries in order and stops at the first failure.
func (h *history) append(ctx context.Context, entries ...types.TranscriptEntry) {
	for _, e := range entries {
		if h.observe("write", h.store.WriteEntry(ctx, e)) {
			return
		}
	}
}

// observe updates the degraded flag and reports whether err is non-nil.
func (h *history) observe(op string, err error) bool {
	if err != nil {
		if !h.degraded.Swap(true) {
			h.log.Warn("history unavailable, continuing without it", "op", op, "err", err)
		}
		return true
	}
	if h.degraded.Swap(false) {
		h.log.Info("history available again", "op", op)
	}
	return false
}

// TrimToBudget drops the oldest messages until the estimated token count of
// msgs fits maxTokens. maxTokens <= 0 disables trimming. The newest message
// is always kept.
func TrimToBudget(msgs []types.Message, maxTokens int) []types.Message {
	if maxTokens <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m)
	}
	start := 0
	for total > maxTokens && start < len(msgs)-1 {
		total -= estimateTokens(msgs[start])
		start++
	}
	return msgs[start:]
}

func estimateTokens(m types.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	if chars == 0 {
		return 0
	}
	return max(chars/charsPerToken, 1)
}
