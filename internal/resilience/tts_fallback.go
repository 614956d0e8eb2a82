package resilience

import (
	"context"

	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// TTSFallback implements [tts.Provider] across several synthesizers.
//
// Voice IDs are vendor specific, so the voice ID is only passed to the
// primary; fallbacks receive the profile with an empty ID and use their
// default voice in the requested language.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesizer.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for inspection.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize renders text with the first healthy synthesizer.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Audio, error) {
	primary := f.group.entries[0].value
	return Do(ctx, f.group, func(p tts.Provider) (tts.Audio, error) {
		v := voice
		if p != primary {
			v.ID = ""
		}
		return p.Synthesize(ctx, text, v)
	})
}
