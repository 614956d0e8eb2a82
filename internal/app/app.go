// Package app wires the bridge's subsystems into a running service.
//
// New builds the shared pieces (history store, cascade engine, carrier
// client) from the config and returns an App whose Handler serves every HTTP
// and websocket route. Calls are created on demand by the [CallManager] when
// the carrier opens a media stream. Shutdown closes active calls and then the
// shared resources in reverse order.
//
// For tests, inject doubles through the functional options (WithSessionStore,
// WithCallPlacer, WithEngine, ...). Anything not injected is created from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/phonebridge/internal/config"
	"github.com/MrWong99/phonebridge/internal/engine"
	"github.com/MrWong99/phonebridge/internal/engine/cascade"
	"github.com/MrWong99/phonebridge/internal/health"
	"github.com/MrWong99/phonebridge/internal/observe"
	"github.com/MrWong99/phonebridge/internal/segment"
	"github.com/MrWong99/phonebridge/internal/session"
	"github.com/MrWong99/phonebridge/internal/telephony"
	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/memory/inmem"
	"github.com/MrWong99/phonebridge/pkg/memory/postgres"
	"github.com/MrWong99/phonebridge/pkg/provider/llm"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/provider/translate"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// Providers holds one value per provider slot. STT, LLM and TTS are
// required; nil Translate disables reply translation and nil VAD keeps the
// built-in energy detector.
type Providers struct {
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Translate translate.Provider
	VAD       vad.Engine
}

// App owns the lifetime of everything shared between calls.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	history  memory.SessionStore
	placer   telephony.CallPlacer
	engine   engine.Engine // injected; nil builds a cascade per config
	callOpts []session.Option
	checkers []health.Checker

	calls  *CallManager
	health *health.Handler

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSessionStore injects the conversation history store instead of creating
// one from memory.postgres_dsn.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.history = s }
}

// WithCallPlacer injects the carrier REST client.
func WithCallPlacer(p telephony.CallPlacer) Option {
	return func(a *App) { a.placer = p }
}

// WithEngine replaces the cascade engine. The engine is kept across config
// reloads.
func WithEngine(e engine.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithSessionOptions appends options to every call the app creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.callOpts = append(a.callOpts, opts...) }
}

// WithHealthCheckers adds readiness checkers.
func WithHealthCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the configured providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.engine == nil {
		if err := providers.validate(); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	a.cfg.Store(cfg)

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Carrier client ────────────────────────────────────────────────
	if err := a.initTelephony(); err != nil {
		return nil, fmt.Errorf("app: init telephony: %w", err)
	}

	// ── 3. Call template + manager ───────────────────────────────────────
	tmpl, err := a.buildTemplate(cfg)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.calls = NewCallManager(tmpl,
		WithManagerVAD(providers.VAD),
		WithManagerHistory(a.history),
		WithManagerMetrics(a.metrics),
		WithManagerLogger(a.log),
		WithCallOptions(a.callOpts...),
	)

	// ── 4. Health ────────────────────────────────────────────────────────
	checkers := append([]health.Checker{health.ProvidersChecker(map[string]string{
		"stt": cfg.Providers.STT.Name,
		"llm": cfg.Providers.LLM.Name,
		"tts": cfg.Providers.TTS.Name,
	})}, a.checkers...)
	a.health = health.New(
		health.WithCheckers(checkers...),
		health.WithActiveCalls(func() int64 { return int64(a.calls.Len()) }),
	)

	a.log.Info("app: ready",
		"stt", cfg.Providers.STT.Name,
		"llm", cfg.Providers.LLM.Name,
		"tts", cfg.Providers.TTS.Name,
		"translate", cfg.Providers.Translate.Name,
		"outbound_calls", a.placer != nil,
	)
	return a, nil
}

func (p *Providers) validate() error {
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory connects the postgres turn log when a DSN is configured and
// falls back to an in-process store otherwise.
func (a *App) initMemory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.Load().Memory.PostgresDSN
	if dsn == "" {
		a.history = inmem.New()
		a.log.Info("app: conversation history kept in memory")
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.checkers = append(a.checkers, health.PingChecker("postgres", store))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initTelephony creates the carrier REST client when credentials are set.
func (a *App) initTelephony() error {
	if a.placer != nil {
		return nil
	}
	t := a.cfg.Load().Telephony
	if !t.Enabled() {
		a.log.Info("app: carrier credentials not set; outbound calls disabled")
		return nil
	}
	var opts []telephony.ClientOption
	if t.APIBaseURL != "" {
		opts = append(opts, telephony.WithAPIBaseURL(t.APIBaseURL))
	}
	client, err := telephony.NewClient(t.AccountSID, t.AuthToken, t.PhoneNumber, opts...)
	if err != nil {
		return err
	}
	a.placer = client
	return nil
}

// buildTemplate derives the per-call settings and the engine from cfg.
func (a *App) buildTemplate(cfg *config.Config) (CallTemplate, error) {
	sc, err := sessionConfig(cfg)
	if err != nil {
		return CallTemplate{}, err
	}
	eng := a.engine
	if eng == nil {
		eng = a.buildEngine(cfg)
	}
	return CallTemplate{Session: sc, Engine: eng}, nil
}

func sessionConfig(cfg *config.Config) (session.Config, error) {
	cue, err := session.ParseCue(cfg.Audio.FallbackCue)
	if err != nil {
		return session.Config{}, err
	}
	au := cfg.Audio
	sc := session.DefaultConfig()
	sc.SampleRate = au.SampleRateHz
	sc.FrameSizeBytes = au.FrameSizeBytes
	sc.QueueFrames = au.QueueFrames
	sc.SilenceThresholdRMS = au.SilenceThresholdRMS
	sc.OnsetFrames = au.VADOnsetFrames
	sc.ReleaseFrames = au.VADReleaseFrames
	sc.Segment = segment.Config{
		MinSpeech:          time.Duration(au.MinSpeechMs) * time.Millisecond,
		MaxSpeech:          time.Duration(au.MaxSpeechMs) * time.Millisecond,
		EndOfSpeechSilence: time.Duration(au.EndOfSpeechSilenceMs) * time.Millisecond,
	}
	sc.FallbackCue = cue
	sc.HistoryTurns = max(cfg.Conversation.HistoryTurns, 0)
	sc.HistoryTokens = cfg.Conversation.HistoryTokens

	check := sc
	check.CallID = "template"
	if err := check.Validate(); err != nil {
		return session.Config{}, fmt.Errorf("call settings: %w", err)
	}
	return sc, nil
}

// buildEngine constructs the shared cascade for cfg.
func (a *App) buildEngine(cfg *config.Config) engine.Engine {
	conv := cfg.Conversation
	opts := []cascade.Option{
		cascade.WithVoice(types.VoiceProfile{ID: conv.Voice, Provider: cfg.Providers.TTS.Name}),
		cascade.WithReplyLanguage(conv.ReplyLanguage),
		cascade.WithMaxTokens(conv.MaxTokens),
		cascade.WithTimeouts(engine.Timeouts{
			Transcription: cfg.Timeouts.Transcription,
			Generation:    cfg.Timeouts.Generation,
			Translation:   cfg.Timeouts.Translation,
			Synthesis:     cfg.Timeouts.Synthesis,
		}),
		cascade.WithMetrics(a.metrics),
	}
	if conv.SystemPrompt != "" {
		opts = append(opts, cascade.WithSystemPrompt(conv.SystemPrompt))
	}
	if conv.Temperature != nil {
		opts = append(opts, cascade.WithTemperature(*conv.Temperature))
	}
	if a.providers.Translate != nil {
		opts = append(opts, cascade.WithTranslator(a.providers.Translate))
	}
	return cascade.New(a.providers.STT, a.providers.LLM, a.providers.TTS, opts...)
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the bridge's HTTP surface:
//
//   - POST /voice: call-setup TwiML
//   - GET /ws/media-stream: carrier media websocket
//   - POST /outbound-call, POST /calls/{sid}/hangup: when a carrier client
//     is configured
//   - GET /healthz, /health, /readyz
//
// Every route is wrapped with the request metrics middleware.
func (a *App) Handler() http.Handler {
	cfg := a.cfg.Load()
	mux := http.NewServeMux()

	telephony.NewMediaServer(a.calls,
		telephony.WithMediaLogger(a.log),
		telephony.WithSampleRate(cfg.Audio.SampleRateHz),
	).Register(mux)

	greeting := cfg.Telephony.Greeting
	if greeting == "" {
		greeting = telephony.DefaultGreeting
	}
	(&telephony.VoiceHandler{
		PublicHost: cfg.Server.PublicHost,
		Greeting:   greeting,
		SampleRate: cfg.Audio.SampleRateHz,
		Log:        a.log,
	}).Register(mux)

	if a.placer != nil {
		telephony.NewCallsAPI(a.placer, a.log).Register(mux)
	}
	a.health.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Calls returns the call registry.
func (a *App) Calls() *CallManager { return a.calls }

// Config returns the config the app currently runs with.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. Audio, timeout and
// conversation changes take effect for calls accepted afterwards; sections
// that need a restart are logged and ignored. The log level is owned by the
// caller.
func (a *App) Reload(next *config.Config) {
	prev := a.cfg.Load()
	d := config.Diff(prev, next)
	if !d.Changed() {
		return
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("app: config sections changed that need a restart", "sections", d.RestartRequired)
	}
	if !d.AudioChanged && !d.TimeoutsChanged && !d.ConversationChanged {
		return
	}

	// Keep restart-only sections as they were so Config stays truthful.
	merged := *prev
	merged.Server.LogLevel = next.Server.LogLevel
	merged.Audio = next.Audio
	merged.Timeouts = next.Timeouts
	merged.Conversation = next.Conversation

	tmpl, err := a.buildTemplate(&merged)
	if err != nil {
		a.log.Error("app: reload rejected", "err", err)
		return
	}
	a.calls.SetTemplate(tmpl)
	a.cfg.Store(&merged)
	a.log.Info("app: config reloaded for new calls",
		"audio", d.AudioChanged,
		"timeouts", d.TimeoutsChanged,
		"conversation", d.ConversationChanged,
		"prompt", d.PromptChanged,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every active call, waits for them within ctx and then
// releases shared resources. Only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "active_calls", a.calls.Len())
		err = a.calls.Shutdown(ctx)
		a.runClosers()
		a.log.Info("app: shutdown complete")
	})
	return err
}

func (a *App) runClosers() {
	for _, closer := range slices.Backward(a.closers) {
		if err := closer(); err != nil {
			a.log.Warn("app: closer error", "err", err)
		}
	}
	a.closers = nil
}
