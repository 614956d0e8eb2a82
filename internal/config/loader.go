package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"sarvam", "deepgram", "whisper"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"tts":       {"sarvam", "coqui", "elevenlabs"},
	"translate": {"sarvam"},
	"vad":       {"energy"},
}

// Load reads the YAML configuration file at path, overlays the process
// environment, applies defaults and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted, which keeps it usable in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Telephony
	t := cfg.Telephony
	if (t.AccountSID == "") != (t.AuthToken == "") {
		errs = append(errs, errors.New("telephony.account_sid and telephony.auth_token must be set together"))
	}
	if t.Enabled() && t.PhoneNumber == "" {
		slog.Warn("telephony.phone_number is empty; outbound calls must pass an explicit from number")
	}

	errs = append(errs, validateAudio(cfg.Audio)...)

	// Timeouts
	for _, to := range []struct {
		name string
		d    time.Duration
	}{
		{"transcription", cfg.Timeouts.Transcription},
		{"generation", cfg.Timeouts.Generation},
		{"translation", cfg.Timeouts.Translation},
		{"synthesis", cfg.Timeouts.Synthesis},
	} {
		if to.d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s %s must not be negative", to.name, to.d))
		}
	}

	// Conversation
	c := cfg.Conversation
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_tokens %d must not be negative", c.MaxTokens))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", *c.Temperature))
	}
	if c.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_tokens %d must not be negative", c.HistoryTokens))
	}

	// Providers: the three cascade stages are mandatory.
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
		}
		for i, fb := range p.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", p.kind, i))
			}
			validateProviderName(p.kind, fb.Name)
		}
		validateProviderName(p.kind, p.entry.Name)
	}
	validateProviderName("translate", cfg.Providers.Translate.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if len(cfg.Providers.Translate.Fallbacks) > 0 || len(cfg.Providers.VAD.Fallbacks) > 0 {
		slog.Warn("fallbacks are only supported for stt, llm and tts providers; ignoring")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; conversation history is kept in memory only")
	}

	return errors.Join(errs...)
}

func validateAudio(a AudioConfig) []error {
	var errs []error
	if a.SilenceThresholdRMS < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold_rms %.1f must not be negative", a.SilenceThresholdRMS))
	}
	if a.MinSpeechMs < 0 || a.MaxSpeechMs < 0 || a.EndOfSpeechSilenceMs < 0 {
		errs = append(errs, errors.New("audio speech durations must not be negative"))
	}
	if a.MaxSpeechMs > 0 && a.MinSpeechMs >= a.MaxSpeechMs {
		errs = append(errs, fmt.Errorf("audio.min_speech_ms %d must be below audio.max_speech_ms %d", a.MinSpeechMs, a.MaxSpeechMs))
	}
	if a.SampleRateHz < 0 || a.FrameSizeBytes < 0 {
		errs = append(errs, errors.New("audio.sample_rate_hz and audio.frame_size_bytes must not be negative"))
	} else if a.SampleRateHz > 0 && a.FrameSizeBytes > 0 && (a.FrameSizeBytes*1000)%a.SampleRateHz != 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size_bytes %d is not a whole number of milliseconds at %d Hz", a.FrameSizeBytes, a.SampleRateHz))
	}
	if a.QueueFrames < 0 || a.VADOnsetFrames < 0 || a.VADReleaseFrames < 0 {
		errs = append(errs, errors.New("audio queue and vad frame counts must not be negative"))
	}
	switch a.FallbackCue {
	case "", "none", "beep":
	default:
		errs = append(errs, fmt.Errorf("audio.fallback_cue %q is invalid; valid values: none, beep", a.FallbackCue))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
