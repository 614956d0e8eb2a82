package resilience

import (
	"context"

	"github.com/MrWong99/phonebridge/pkg/provider/translate"
)

// TranslateGuard puts a single translation backend behind a
// [CircuitBreaker]. Translation has no fallbacks; while the breaker is open
// translated turns fail fast.
type TranslateGuard struct {
	group *FallbackGroup[translate.Provider]
}

var _ translate.Provider = (*TranslateGuard)(nil)

// NewTranslateGuard wraps p.
func NewTranslateGuard(p translate.Provider, name string, cfg FallbackConfig) *TranslateGuard {
	if cfg.Kind == "" {
		cfg.Kind = "translate"
	}
	return &TranslateGuard{group: NewFallbackGroup(p, name, cfg)}
}

// Translate forwards to the wrapped backend unless its breaker is open.
func (g *TranslateGuard) Translate(ctx context.Context, text, source, target string) (string, error) {
	return Do(ctx, g.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, text, source, target)
	})
}
