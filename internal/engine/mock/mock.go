// Package mock provides an in-memory mock implementation of [engine.Engine]
// for use in unit tests.
//
// The mock records every call and allows the test to configure return values
// via exported fields. It is safe for concurrent use.
//
// Example:
//
//	e := &mock.Engine{
//	    Result: &engine.Response{Reply: "Hello!", Audio: tts.Audio{PCM: pcm, SampleRate: 8000, Channels: 1}},
//	}
//	resp, err := e.Process(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonebridge/internal/engine"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

// Engine is a mock implementation of [engine.Engine].
type Engine struct {
	mu sync.Mutex

	// Result is returned by Process when Err is nil. Seq is overwritten with
	// the request's Seq. A nil Result yields an empty response.
	Result *engine.Response

	// Err is returned by Process.
	Err error

	// Hook, when set, runs before Process returns. It may block on ctx to
	// simulate a slow vendor, or return a per-call result. A non-nil error
	// replaces Err; a non-nil response replaces Result.
	Hook func(ctx context.Context, req engine.Request) (*engine.Response, error)

	calls []engine.Request
}

// Process implements [engine.Engine].
func (e *Engine) Process(ctx context.Context, req engine.Request) (*engine.Response, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	hook, result, err := e.Hook, e.Result, e.Err
	e.mu.Unlock()

	if hook != nil {
		r, herr := hook(ctx, req)
		if herr != nil {
			return nil, herr
		}
		if r != nil {
			result = r
		}
	}
	if err != nil {
		return nil, err
	}
	var out engine.Response
	if result != nil {
		out = *result
	}
	out.Seq = req.Seq
	return &out, nil
}

// Calls returns a copy of every recorded request.
func (e *Engine) Calls() []engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Request, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns how many times Process was invoked.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
