package config

import "time"

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSilenceThresholdRMS  = 200
	DefaultMinSpeechMs          = 1000
	DefaultMaxSpeechMs          = 15000
	DefaultEndOfSpeechSilenceMs = 1000
	DefaultSampleRateHz         = 8000
	DefaultFrameSizeBytes       = 160
	DefaultQueueFrames          = 50
	DefaultFallbackCue          = "none"

	DefaultTranscriptionTimeout = 30 * time.Second
	DefaultGenerationTimeout    = 15 * time.Second
	DefaultTranslationTimeout   = 10 * time.Second
	DefaultSynthesisTimeout     = 30 * time.Second

	DefaultHistoryTurns  = 10
	DefaultMaxTokens     = 150
	DefaultTemperature   = 0.7
	DefaultReplyLanguage = "en-IN"
	DefaultVAD           = "energy"
)

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	s.ListenAddr = or(s.ListenAddr, DefaultListenAddr)
	s.LogLevel = or(s.LogLevel, LogInfo)
	s.LogFormat = or(s.LogFormat, LogFormatText)
	s.ShutdownTimeout = or(s.ShutdownTimeout, DefaultShutdownTimeout)

	a := &cfg.Audio
	a.SilenceThresholdRMS = or(a.SilenceThresholdRMS, DefaultSilenceThresholdRMS)
	a.MinSpeechMs = or(a.MinSpeechMs, DefaultMinSpeechMs)
	a.MaxSpeechMs = or(a.MaxSpeechMs, DefaultMaxSpeechMs)
	a.EndOfSpeechSilenceMs = or(a.EndOfSpeechSilenceMs, DefaultEndOfSpeechSilenceMs)
	a.SampleRateHz = or(a.SampleRateHz, DefaultSampleRateHz)
	a.FrameSizeBytes = or(a.FrameSizeBytes, DefaultFrameSizeBytes)
	a.QueueFrames = or(a.QueueFrames, DefaultQueueFrames)
	a.VADOnsetFrames = or(a.VADOnsetFrames, 1)
	a.VADReleaseFrames = or(a.VADReleaseFrames, 1)
	a.FallbackCue = or(a.FallbackCue, DefaultFallbackCue)

	t := &cfg.Timeouts
	t.Transcription = or(t.Transcription, DefaultTranscriptionTimeout)
	t.Generation = or(t.Generation, DefaultGenerationTimeout)
	t.Translation = or(t.Translation, DefaultTranslationTimeout)
	t.Synthesis = or(t.Synthesis, DefaultSynthesisTimeout)

	c := &cfg.Conversation
	c.HistoryTurns = or(c.HistoryTurns, DefaultHistoryTurns)
	c.MaxTokens = or(c.MaxTokens, DefaultMaxTokens)
	c.ReplyLanguage = or(c.ReplyLanguage, DefaultReplyLanguage)
	if c.Temperature == nil {
		v := DefaultTemperature
		c.Temperature = &v
	}

	cfg.Providers.VAD.Name = or(cfg.Providers.VAD.Name, DefaultVAD)
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
