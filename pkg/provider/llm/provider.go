// Package llm defines the Provider interface for response generation backends.
//
// An LLM provider receives the running conversation of a phone call (as plain
// text turns) plus a system prompt and returns the assistant's next reply. The
// reply is spoken back to the caller, so callers typically cap MaxTokens to keep
// answers short.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/phonebridge/pkg/types"
)

// Usage reports token consumption for a single completion request.
type Usage struct {
	// PromptTokens is the number of tokens in the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest is the input to Complete.
type CompletionRequest struct {
	// Messages is the conversation history, oldest first, ending with the
	// caller's latest utterance. Roles are "user" and "assistant".
	Messages []types.Message

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Temperature controls sampling randomness. Nil leaves the backend
	// default in place; zero is sent as greedy sampling.
	Temperature *float64

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is the result of a Complete call.
type CompletionResponse struct {
	// Content is the generated reply text.
	Content string

	// Model is the model that produced the reply, if reported.
	Model string

	// Usage reports token consumption.
	Usage Usage

	// Truncated is set when generation stopped at MaxTokens rather than at a
	// natural end.
	Truncated bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete generates the next assistant reply for req.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
