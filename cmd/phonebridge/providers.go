package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/phonebridge/internal/app"
	"github.com/MrWong99/phonebridge/internal/config"
	"github.com/MrWong99/phonebridge/internal/observe"
	"github.com/MrWong99/phonebridge/internal/resilience"
	"github.com/MrWong99/phonebridge/pkg/provider/llm"
	"github.com/MrWong99/phonebridge/pkg/provider/llm/anyllm"
	"github.com/MrWong99/phonebridge/pkg/provider/llm/openai"
	"github.com/MrWong99/phonebridge/pkg/provider/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/provider/stt/deepgram"
	sttsarvam "github.com/MrWong99/phonebridge/pkg/provider/stt/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/stt/whisper"
	"github.com/MrWong99/phonebridge/pkg/provider/translate"
	translatesarvam "github.com/MrWong99/phonebridge/pkg/provider/translate/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/provider/tts/coqui"
	"github.com/MrWong99/phonebridge/pkg/provider/tts/elevenlabs"
	ttssarvam "github.com/MrWong99/phonebridge/pkg/provider/tts/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/provider/vad/energy"
)

// sarvamClients shares one HTTP client per (api key, base url) across the
// stt, tts and translate slots.
type sarvamClients struct {
	mu      sync.Mutex
	clients map[string]*sarvam.Client
}

func (s *sarvamClients) get(entry config.ProviderEntry) (*sarvam.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entry.APIKey + "\x00" + entry.BaseURL
	if c, ok := s.clients[key]; ok {
		return c, nil
	}
	var opts []sarvam.Option
	if entry.BaseURL != "" {
		opts = append(opts, sarvam.WithBaseURL(entry.BaseURL))
	}
	c, err := sarvam.New(entry.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if s.clients == nil {
		s.clients = make(map[string]*sarvam.Client)
	}
	s.clients[key] = c
	return c, nil
}

// registerBuiltinProviders registers every provider implementation shipped
// with phonebridge.
func registerBuiltinProviders(reg *config.Registry) {
	sc := &sarvamClients{}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("sarvam", func(entry config.ProviderEntry) (stt.Provider, error) {
		client, err := sc.get(entry)
		if err != nil {
			return nil, err
		}
		var opts []sttsarvam.Option
		if entry.Model != "" {
			opts = append(opts, sttsarvam.WithModel(entry.Model))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, sttsarvam.WithPrompt(prompt))
		}
		return sttsarvam.New(client, opts...), nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithBaseURL(entry.BaseURL),
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The rest go through any-llm; they share optional APIKey + BaseURL.
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("sarvam", func(entry config.ProviderEntry) (tts.Provider, error) {
		client, err := sc.get(entry)
		if err != nil {
			return nil, err
		}
		var opts []ttssarvam.Option
		if entry.Model != "" {
			opts = append(opts, ttssarvam.WithModel(entry.Model))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, ttssarvam.WithSpeaker(speaker))
		}
		return ttssarvam.New(client, opts...), nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("sarvam", func(entry config.ProviderEntry) (translate.Provider, error) {
		client, err := sc.get(entry)
		if err != nil {
			return nil, err
		}
		var opts []translatesarvam.Option
		if entry.Model != "" {
			opts = append(opts, translatesarvam.WithModel(entry.Model))
		}
		if mode := optString(entry.Options, "mode"); mode != "" {
			opts = append(opts, translatesarvam.WithMode(mode))
		}
		if g := optString(entry.Options, "speaker_gender"); g != "" {
			opts = append(opts, translatesarvam.WithSpeakerGender(g))
		}
		return translatesarvam.New(client, opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, kind := range []string{"stt", "llm", "tts", "translate", "vad"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the configured providers and wraps the stt, llm
// and tts slots in circuit-breaker fallback groups. Backend attempts are
// counted on metrics when it is non-nil.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	breaker := resilience.CircuitBreakerConfig{Logger: slog.Default()}
	var report func(ctx context.Context, provider, kind, outcome string)
	if metrics != nil {
		report = metrics.RecordProviderAttempt
	}
	chain := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, CircuitBreaker: breaker, Report: report}
	}

	if e := cfg.Providers.STT; e.Name != "" {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		fb := resilience.NewSTTFallback(p, e.Name, chain("stt"))
		for i, f := range e.Fallbacks {
			alt, err := reg.CreateSTT(f)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %d %q: %w", i, f.Name, err)
			}
			fb.AddFallback(f.Name, alt)
		}
		ps.STT = fb
		slog.Info("provider created", "kind", "stt", "chain", fb.Group().Names())
	}

	if e := cfg.Providers.LLM; e.Name != "" {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		fb := resilience.NewLLMFallback(p, e.Name, chain("llm"))
		for i, f := range e.Fallbacks {
			alt, err := reg.CreateLLM(f)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %d %q: %w", i, f.Name, err)
			}
			fb.AddFallback(f.Name, alt)
		}
		ps.LLM = fb
		slog.Info("provider created", "kind", "llm", "chain", fb.Group().Names())
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", e.Name, err)
		}
		fb := resilience.NewTTSFallback(p, e.Name, chain("tts"))
		for i, f := range e.Fallbacks {
			alt, err := reg.CreateTTS(f)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %d %q: %w", i, f.Name, err)
			}
			fb.AddFallback(f.Name, alt)
		}
		ps.TTS = fb
		slog.Info("provider created", "kind", "tts", "chain", fb.Group().Names())
	}

	if e := cfg.Providers.Translate; e.Name != "" {
		p, err := reg.CreateTranslate(e)
		if err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", e.Name, err)
		}
		ps.Translate = resilience.NewTranslateGuard(p, e.Name, chain("translate"))
		slog.Info("provider created", "kind", "translate", "name", e.Name)
	}

	if e := cfg.Providers.VAD; e.Name != "" {
		p, err := reg.CreateVAD(e)
		if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", e.Name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", e.Name)
	}

	return ps, nil
}

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optDuration reads a duration option given either as a Go duration string
// ("15s") or a number of seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(n * float64(time.Second))
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
