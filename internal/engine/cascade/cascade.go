// Package cascade implements [engine.Engine] as a sequential pipeline of
// independent vendors: speech-to-text, an LLM, an optional translator and
// text-to-speech.
//
// # Pipeline
//
//  1. The segment PCM is transcribed. The recognizer also reports the spoken
//     language; when it does not, the call's sticky language is kept.
//  2. The transcript is appended to the recent history and sent to the LLM
//     with a phone-assistant system prompt.
//  3. When the caller's language differs from the LLM's reply language and a
//     translator is configured, the reply is translated into the caller's
//     language.
//  4. The reply is synthesized in the caller's language.
//
// Every step runs under its own deadline derived from [engine.Timeouts].
// There are no retries; a failed step fails the turn.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/phonebridge/internal/engine"
	"github.com/MrWong99/phonebridge/internal/observe"
	"github.com/MrWong99/phonebridge/pkg/provider/llm"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/provider/translate"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/types"
)

const (
	// DefaultSystemPrompt instructs the LLM to answer briefly, since every
	// reply is spoken back over the phone.
	DefaultSystemPrompt = "You are a helpful assistant in a phone conversation. " +
		"Keep your responses concise and natural, as they will be spoken back to the user. " +
		"Aim to keep responses under 2-3 sentences unless more detail is specifically requested."

	// DefaultReplyLanguage is the language the LLM is expected to answer in.
	DefaultReplyLanguage = "en-IN"

	// DefaultMaxTokens caps reply length.
	DefaultMaxTokens = 150

	// DefaultTemperature is the sampling temperature sent to the LLM.
	DefaultTemperature = 0.7
)

// Engine implements [engine.Engine] with a sequential STT → LLM →
// (translate) → TTS cascade. Engine is safe for concurrent use; it holds no
// per-call state.
type Engine struct {
	stt        stt.Provider
	llm        llm.Provider
	tts        tts.Provider
	translator translate.Provider // nil = replies are never translated

	voice         types.VoiceProfile
	systemPrompt  string
	replyLanguage string
	maxTokens     int
	temperature   float64
	timeouts      engine.Timeouts
	metrics       *observe.Metrics
}

// Compile-time assertion that Engine satisfies the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithTranslator enables translation of replies into the caller's language.
func WithTranslator(t translate.Provider) Option {
	return func(e *Engine) { e.translator = t }
}

// WithVoice sets the voice replies are synthesized with. The Language field
// is overwritten per turn with the caller's language.
func WithVoice(v types.VoiceProfile) Option {
	return func(e *Engine) { e.voice = v }
}

// WithSystemPrompt overrides [DefaultSystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(e *Engine) { e.systemPrompt = p }
}

// WithReplyLanguage sets the language the LLM answers in.
func WithReplyLanguage(lang string) Option {
	return func(e *Engine) { e.replyLanguage = lang }
}

// WithMaxTokens caps the LLM reply length.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithTemperature sets the LLM sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithTimeouts sets the per-step deadlines. Zero fields keep their defaults.
func WithTimeouts(t engine.Timeouts) Option {
	return func(e *Engine) { e.timeouts = t }
}

// WithMetrics records step latencies and turn outcomes on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs a cascade Engine backed by the given providers.
func New(s stt.Provider, l llm.Provider, t tts.Provider, opts ...Option) *Engine {
	e := &Engine{
		stt:           s,
		llm:           l,
		tts:           t,
		systemPrompt:  DefaultSystemPrompt,
		replyLanguage: DefaultReplyLanguage,
		maxTokens:     DefaultMaxTokens,
		temperature:   DefaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	e.timeouts = e.timeouts.WithDefaults()
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// ─── engine.Engine ────────────────────────────────────────────────────────────

// Process runs one turn. Errors wrap [engine.ErrTranscriptionUnavailable],
// [engine.ErrGenerationUnavailable] or [engine.ErrSynthesisUnavailable]
// together with the underlying cause.
func (e *Engine) Process(ctx context.Context, req engine.Request) (*engine.Response, error) {
	ctx = observe.WithCall(ctx, req.CallID)
	ctx, span := observe.StartSpan(ctx, "cascade.process",
		trace.WithAttributes(attribute.Int64("seq", int64(req.Seq))),
	)
	defer span.End()

	start := time.Now()
	resp, err := e.process(ctx, req)
	status := turnStatus(ctx, err)
	e.metrics.RecordTurn(ctx, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}
	e.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	return resp, nil
}

func (e *Engine) process(ctx context.Context, req engine.Request) (*engine.Response, error) {
	log := observe.Logger(ctx).With("seq", req.Seq)
	resp := &engine.Response{Seq: req.Seq}

	// ── Step 1: transcription ────────────────────────────────────────────────

	tr, d, err := e.transcribe(ctx, req)
	resp.Timings.Transcription = d
	if err != nil {
		return nil, err
	}
	resp.Transcript = tr
	resp.Language = detectLanguage(tr.Language, req.Language, e.replyLanguage)
	log.Debug("cascade: transcribed", "text", tr.Text, "language", resp.Language, "duration", d)

	// ── Step 2: generation ───────────────────────────────────────────────────

	reply, d, err := e.generate(ctx, req.History, tr.Text)
	resp.Timings.Generation = d
	if err != nil {
		return nil, err
	}
	resp.GeneratedReply = reply
	resp.Reply = reply
	log.Debug("cascade: generated reply", "chars", len(reply), "duration", d)

	// ── Step 3: translation ──────────────────────────────────────────────────

	if e.needsTranslation(resp.Language) {
		translated, d, err := e.translate(ctx, reply, resp.Language)
		resp.Timings.Translation = d
		if err != nil {
			return nil, err
		}
		resp.Reply = translated
		log.Debug("cascade: translated reply", "target", resp.Language, "duration", d)
	}

	// ── Step 4: synthesis ────────────────────────────────────────────────────

	out, d, err := e.synthesize(ctx, resp.Reply, resp.Language)
	resp.Timings.Synthesis = d
	if err != nil {
		return nil, err
	}
	resp.Audio = out
	log.Debug("cascade: synthesized reply",
		"audio", out.Duration(),
		"sample_rate", out.SampleRate,
		"duration", d,
	)
	return resp, nil
}

// ─── Steps ────────────────────────────────────────────────────────────────────

func (e *Engine) transcribe(ctx context.Context, req engine.Request) (types.Transcript, time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Transcription)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "cascade.transcribe")
	defer span.End()

	start := time.Now()
	tr, err := e.stt.Transcribe(sctx, stt.Request{
		Audio:      req.Audio,
		SampleRate: req.SampleRate,
		Language:   req.Language,
	})
	d := time.Since(start)
	e.metrics.STTDuration.Record(ctx, d.Seconds())
	if err != nil {
		span.RecordError(err)
		return types.Transcript{}, d, fmt.Errorf("cascade: transcribe: %w: %w", engine.ErrTranscriptionUnavailable, err)
	}
	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Text == "" {
		return types.Transcript{}, d, fmt.Errorf("cascade: transcribe: %w: empty transcript", engine.ErrTranscriptionUnavailable)
	}
	return tr, d, nil
}

func (e *Engine) generate(ctx context.Context, history []types.Message, text string) (string, time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Generation)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "cascade.generate")
	defer span.End()

	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, types.Message{Role: "user", Content: text})

	temp := e.temperature
	start := time.Now()
	out, err := e.llm.Complete(sctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: e.systemPrompt,
		Temperature:  &temp,
		MaxTokens:    e.maxTokens,
	})
	d := time.Since(start)
	e.metrics.LLMDuration.Record(ctx, d.Seconds())
	if err != nil {
		span.RecordError(err)
		return "", d, fmt.Errorf("cascade: generate: %w: %w", engine.ErrGenerationUnavailable, err)
	}
	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		return "", d, fmt.Errorf("cascade: generate: %w: empty reply", engine.ErrGenerationUnavailable)
	}
	if out.Usage.TotalTokens > 0 {
		span.SetAttributes(attribute.Int("llm.total_tokens", out.Usage.TotalTokens))
	}
	return reply, d, nil
}

func (e *Engine) translate(ctx context.Context, text, target string) (string, time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Translation)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "cascade.translate",
		trace.WithAttributes(attribute.String("target", target)),
	)
	defer span.End()

	start := time.Now()
	out, err := e.translator.Translate(sctx, text, e.replyLanguage, target)
	d := time.Since(start)
	e.metrics.TranslateDuration.Record(ctx, d.Seconds())
	if err != nil {
		span.RecordError(err)
		return "", d, fmt.Errorf("cascade: translate: %w: %w", engine.ErrGenerationUnavailable, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		// Blank translation: speak the untranslated reply.
		return text, d, nil
	}
	return out, d, nil
}

func (e *Engine) synthesize(ctx context.Context, text, language string) (tts.Audio, time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.Synthesis)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "cascade.synthesize")
	defer span.End()

	voice := e.voice
	voice.Language = language

	start := time.Now()
	out, err := e.tts.Synthesize(sctx, text, voice)
	d := time.Since(start)
	e.metrics.TTSDuration.Record(ctx, d.Seconds())
	if err != nil {
		span.RecordError(err)
		return tts.Audio{}, d, fmt.Errorf("cascade: synthesize: %w: %w", engine.ErrSynthesisUnavailable, err)
	}
	if len(out.PCM) == 0 || out.SampleRate <= 0 {
		return tts.Audio{}, d, fmt.Errorf("cascade: synthesize: %w: no audio", engine.ErrSynthesisUnavailable)
	}
	if out.Channels <= 0 {
		out.Channels = 1
	}
	return out, d, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (e *Engine) needsTranslation(language string) bool {
	return e.translator != nil && language != "" && !sameLanguage(language, e.replyLanguage)
}

// sameLanguage compares the primary subtags of two BCP-47 tags, so "en"
// and "en-IN" match.
func sameLanguage(a, b string) bool {
	primary := func(tag string) string {
		if i := strings.IndexAny(tag, "-_"); i > 0 {
			return tag[:i]
		}
		return tag
	}
	return strings.EqualFold(primary(a), primary(b))
}

// detectLanguage prefers the language reported for this turn, then the call's
// sticky language, then the configured reply language.
func detectLanguage(detected, sticky, reply string) string {
	switch {
	case detected != "":
		return detected
	case sticky != "":
		return sticky
	default:
		return reply
	}
}

// turnStatus maps a Process outcome to the status attribute of the turn
// counter.
func turnStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, engine.ErrTranscriptionUnavailable):
		return "transcription"
	case errors.Is(err, engine.ErrGenerationUnavailable):
		return "generation"
	case errors.Is(err, engine.ErrSynthesisUnavailable):
		return "synthesis"
	default:
		return "error"
	}
}
