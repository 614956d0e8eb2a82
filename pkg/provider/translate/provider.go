// Package translate defines the Provider interface for text translation
// backends.
//
// Translation bridges the language the response generator answers in and the
// language the caller speaks. Languages are BCP-47 tags such as "en-IN" or
// "ta-IN".
package translate

import "context"

// Provider is the abstraction over any translation backend. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Translate converts text from the source language into the target
	// language. Implementations return text unchanged when source and target
	// are equal.
	Translate(ctx context.Context, text, source, target string) (string, error)
}
