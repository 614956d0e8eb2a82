package main

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/internal/config"
	"github.com/MrWong99/phonebridge/internal/resilience"
	"github.com/MrWong99/phonebridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/phonebridge/pkg/provider/llm/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	sttmock "github.com/MrWong99/phonebridge/pkg/provider/stt/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/translate"
	translatemock "github.com/MrWong99/phonebridge/pkg/provider/translate/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	ttsmock "github.com/MrWong99/phonebridge/pkg/provider/tts/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"a", "b"} {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	}
	reg.RegisterTranslate("a", func(config.ProviderEntry) (translate.Provider, error) { return &translatemock.Provider{}, nil })
	return reg
}

func TestBuildProviders_WrapsFallbackChains(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.STT = config.ProviderEntry{Name: "a", Fallbacks: []config.ProviderEntry{{Name: "b"}}}
	cfg.Providers.LLM = config.ProviderEntry{Name: "b"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "a", Fallbacks: []config.ProviderEntry{{Name: "b"}, {Name: "a"}}}
	cfg.Providers.Translate = config.ProviderEntry{Name: "a"}

	ps, err := buildProviders(cfg, mockRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}

	sttFB, ok := ps.STT.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("STT is %T, want *resilience.STTFallback", ps.STT)
	}
	if got := len(sttFB.Group().Names()); got != 2 {
		t.Errorf("stt chain length = %d, want 2", got)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM is %T, want *resilience.LLMFallback", ps.LLM)
	}
	ttsFB, ok := ps.TTS.(*resilience.TTSFallback)
	if !ok {
		t.Fatalf("TTS is %T, want *resilience.TTSFallback", ps.TTS)
	}
	if got := len(ttsFB.Group().Names()); got != 3 {
		t.Errorf("tts chain length = %d, want 3", got)
	}
	if _, ok := ps.Translate.(*resilience.TranslateGuard); !ok {
		t.Errorf("Translate is %T, want *resilience.TranslateGuard", ps.Translate)
	}
	if ps.VAD != nil {
		t.Errorf("VAD = %T, want nil when unconfigured", ps.VAD)
	}
}

func TestBuildProviders_UnknownFallback(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "a", Fallbacks: []config.ProviderEntry{{Name: "nope"}}}

	_, err := buildProviders(cfg, mockRegistry(), nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders_MatchesKnownNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	for kind, names := range config.ValidProviderNames {
		got := map[string]bool{}
		for _, n := range reg.Names(kind) {
			got[n] = true
		}
		for _, n := range names {
			if !got[n] {
				t.Errorf("%s provider %q not registered", kind, n)
			}
		}
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"duration string", "15s", 15 * time.Second},
		{"seconds string", "2.5", 2500 * time.Millisecond},
		{"int seconds", 3, 3 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"garbage", "soon", 0},
		{"wrong type", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := optDuration(map[string]any{"timeout": tt.val}, "timeout"); got != tt.want {
				t.Errorf("optDuration(%v) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
	if got := optDuration(nil, "timeout"); got != 0 {
		t.Errorf("optDuration(nil) = %v, want 0", got)
	}
}

func TestProviderLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry config.ProviderEntry
		want  string
	}{
		{config.ProviderEntry{}, "(not configured)"},
		{config.ProviderEntry{Name: "sarvam"}, "sarvam"},
		{config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}, "openai / gpt-4o-mini"},
		{config.ProviderEntry{Name: "sarvam", Fallbacks: []config.ProviderEntry{{Name: "coqui"}}}, "sarvam +1"},
	}
	for _, tt := range tests {
		if got := providerLabel(tt.entry); got != tt.want {
			t.Errorf("providerLabel(%+v) = %q, want %q", tt.entry, got, tt.want)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
