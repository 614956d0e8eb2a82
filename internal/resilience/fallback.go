package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Attempt outcomes passed to [FallbackConfig.Report].
const (
	AttemptOK          = "ok"
	AttemptError       = "error"
	AttemptCircuitOpen = "circuit_open"
	AttemptCanceled    = "canceled"
)

// FallbackConfig configures the breaker created for each backend of a
// [FallbackGroup]. CircuitBreaker.Name is ignored; each breaker is labelled
// "<Kind>/<backend name>".
type FallbackConfig struct {
	Kind           string
	CircuitBreaker CircuitBreakerConfig

	// Report, when set, is called once per backend attempt with one of the
	// Attempt* outcomes.
	Report func(ctx context.Context, provider, kind, outcome string)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and zero or more fallbacks of the
// same provider type, each behind its own [CircuitBreaker]. Backends are
// tried in registration order until one succeeds.
//
// Register all backends before the group is shared; calls are safe for
// concurrent use afterwards.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend that is tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if fg.cfg.Kind != "" {
		cbCfg.Name = fg.cfg.Kind + "/" + name
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the backend names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Breaker returns the breaker guarding the named backend, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute runs fn against each backend in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := Do(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Do runs fn against each backend of fg in order and returns the first
// successful result. It stops early once ctx is done, returning the
// context's error, since no later backend could answer in time either.
// When every backend fails the error wraps [ErrAllFailed] and the last
// backend error.
func Do[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.report(ctx, entry.name, AttemptOK)
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fg.report(ctx, entry.name, AttemptCanceled)
			return zero, err
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.report(ctx, entry.name, AttemptCircuitOpen)
			fg.log.Debug("skipping provider with open circuit", "kind", fg.cfg.Kind, "provider", entry.name)
			continue
		}
		fg.report(ctx, entry.name, AttemptError)
		if i < len(fg.entries)-1 {
			fg.log.Warn("provider failed, trying next",
				"kind", fg.cfg.Kind, "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) report(ctx context.Context, provider, outcome string) {
	if fg.cfg.Report != nil {
		fg.cfg.Report(ctx, provider, fg.cfg.Kind, outcome)
	}
}
