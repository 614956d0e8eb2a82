// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonebridge/pkg/provider/translate"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Text   string
	Source string
	Target string
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Translate. When empty, the input text is echoed
	// with the target tag prefixed, e.g. "[hi-IN] hello".
	Result string

	// Err, if non-nil, is returned by Translate.
	Err error

	// Calls records every call to Translate.
	Calls []TranslateCall
}

// Translate records the call and returns Result, Err.
func (p *Provider) Translate(_ context.Context, text, source, target string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranslateCall{Text: text, Source: source, Target: target})
	if p.Err != nil {
		return "", p.Err
	}
	if p.Result != "" {
		return p.Result, nil
	}
	return "[" + target + "] " + text, nil
}

// CallCount returns the number of Translate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)
