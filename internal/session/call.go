// Package session implements the per-call streaming core: ingress queueing,
// voice activity detection, segmentation, the call phase state machine and
// paced egress of synthesized replies.
//
// One [Call] exists per carrier media stream. Its Run goroutine is the only
// goroutine that reads the VAD, feeds the segmenter or changes the phase.
// The transport only decodes payloads and pushes frames into the call's
// drop-oldest [FrameQueue]; orchestration and egress run on their own
// goroutines and report back over channels tagged with the call's sequence
// number, so results that arrive after the call moved on are discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/phonebridge/internal/engine"
	"github.com/MrWong99/phonebridge/internal/observe"
	"github.com/MrWong99/phonebridge/internal/segment"
	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/provider/vad"
	"github.com/MrWong99/phonebridge/pkg/provider/vad/energy"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// historyTimeout bounds history reads and writes made on behalf of a turn.
const historyTimeout = 2 * time.Second

// errClosed is the cancellation cause of a call closed by [Call.Close].
var errClosed = errors.New("session: call closed")

// Config holds the per-call tuning. The zero value is not usable; start from
// [DefaultConfig].
type Config struct {
	// CallID is the carrier call identifier.
	CallID string

	// StreamID is the carrier media stream identifier.
	StreamID string

	// SampleRate is the carrier audio rate in Hz (8000).
	SampleRate int

	// FrameSizeBytes is the size of one carrier frame in mu-law bytes (160).
	FrameSizeBytes int

	// QueueFrames is the ingress queue capacity.
	QueueFrames int

	// SilenceThresholdRMS, OnsetFrames and ReleaseFrames tune the VAD.
	SilenceThresholdRMS float64
	OnsetFrames         int
	ReleaseFrames       int

	// Segment bounds speech segments.
	Segment segment.Config

	// FallbackCue is played when a turn fails.
	FallbackCue Cue

	// HistoryTurns is how many past turns are sent to the LLM. Zero sends
	// none.
	HistoryTurns int

	// HistoryTokens caps the estimated token size of that history. Zero
	// disables the cap.
	HistoryTokens int
}

// DefaultConfig returns the telephone defaults: 8 kHz, 160-byte frames,
// RMS threshold 200 and the default segment bounds.
func DefaultConfig() Config {
	return Config{
		SampleRate:          8000,
		FrameSizeBytes:      160,
		QueueFrames:         DefaultQueueFrames,
		SilenceThresholdRMS: energy.DefaultThresholdRMS,
		OnsetFrames:         1,
		ReleaseFrames:       1,
		Segment:             segment.DefaultConfig(),
		FallbackCue:         CueNone,
		HistoryTurns:        10,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.CallID == "" {
		errs = append(errs, errors.New("call id must not be empty"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", c.FrameSizeBytes))
	} else if c.SampleRate > 0 && (c.FrameSizeBytes*1000)%c.SampleRate != 0 {
		errs = append(errs, fmt.Errorf("frame size %d is not a whole number of milliseconds at %d Hz", c.FrameSizeBytes, c.SampleRate))
	}
	if err := c.Segment.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FrameDuration is the playback length of one carrier frame.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSizeBytes) * time.Second / time.Duration(c.SampleRate)
}

// Observer receives notifications about a call. Callbacks must not block and
// must be safe for concurrent use. Nil fields are skipped.
type Observer struct {
	// OnTransition is called after every phase change.
	OnTransition func(from, to Phase)

	// OnSegment is called for every segmenter outcome other than none,
	// including the flush on teardown.
	OnSegment func(segment.Result)

	// OnTurnError is called when a turn fails.
	OnTurnError func(err error)

	// OnStale is called when an orchestrator result is discarded. Results
	// that finish after the call closed are discarded on the turn goroutine;
	// every other callback runs on the session goroutine.
	OnStale func(seq uint64)
}

// Option configures a [Call].
type Option func(*Call)

// WithVAD replaces the energy VAD.
func WithVAD(e vad.Engine) Option {
	return func(c *Call) { c.vadEngine = e }
}

// WithHistory stores and reads conversation turns through store. Failures
// never fail the call.
func WithHistory(store memory.SessionStore) Option {
	return func(c *Call) { c.historyStore = store }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Call) { c.metrics = m }
}

// WithLogger sets the base logger; call_id is added automatically.
func WithLogger(l *slog.Logger) Option {
	return func(c *Call) { c.log = l }
}

// WithObserver installs lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(c *Call) { c.obs = o }
}

// WithLanguage seeds the sticky language before the first turn.
func WithLanguage(lang string) Option {
	return func(c *Call) { c.language = lang }
}

type turnResult struct {
	seq   uint64
	resp  *engine.Response
	mulaw []byte
	err   error
}

type egressResult struct {
	seq uint64
	err error
}

// Call is one live call session.
type Call struct {
	cfg       Config
	engine    engine.Engine
	sink      audio.Sink
	egress    *Egress
	vadEngine vad.Engine
	metrics   *observe.Metrics
	log       *slog.Logger
	obs       Observer

	historyStore memory.SessionStore
	history      *history

	queue *FrameQueue

	// Owned by the Run goroutine.
	vadSess    vad.SessionHandle
	seg        *segment.Segmenter
	preroll    []audio.AudioFrame
	turnCancel context.CancelFunc
	language   string

	phase atomic.Int32
	seq   atomic.Uint64

	results    chan turnResult
	egressDone chan egressResult

	ctx       context.Context
	cancel    context.CancelCauseFunc
	closeOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a call session in [PhaseListening]. eng runs turns and sink
// receives the reply audio. Run must be called to start processing.
func New(cfg Config, eng engine.Engine, sink audio.Sink, opts ...Option) (*Call, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	if eng == nil || sink == nil {
		return nil, errors.New("session: engine and sink are required")
	}
	if cfg.QueueFrames < 1 {
		cfg.QueueFrames = DefaultQueueFrames
	}
	c := &Call{
		cfg:        cfg,
		engine:     eng,
		sink:       sink,
		egress:     NewEgress(sink, cfg.FrameSizeBytes, cfg.SampleRate),
		queue:      NewFrameQueue(cfg.QueueFrames),
		results:    make(chan turnResult),
		egressDone: make(chan egressResult),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.vadEngine == nil {
		c.vadEngine = energy.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("call_id", cfg.CallID)
	if c.historyStore != nil {
		c.history = newHistory(c.historyStore, cfg.CallID, c.log)
	}

	vs, err := c.vadEngine.NewSession(vad.Config{
		SampleRate:          cfg.SampleRate,
		FrameSizeMs:         int(cfg.FrameDuration() / time.Millisecond),
		SilenceThresholdRMS: cfg.SilenceThresholdRMS,
		OnsetFrames:         cfg.OnsetFrames,
		ReleaseFrames:       cfg.ReleaseFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create vad session: %w", err)
	}
	c.vadSess = vs

	c.seg, err = segment.New(cfg.Segment)
	if err != nil {
		_ = vs.Close()
		return nil, fmt.Errorf("session: create segmenter: %w", err)
	}

	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	c.phase.Store(int32(PhaseListening))
	return c, nil
}

// ─── Accessors ────────────────────────────────────────────────────────────────

// ID returns the call id.
func (c *Call) ID() string { return c.cfg.CallID }

// StreamID returns the carrier stream id.
func (c *Call) StreamID() string { return c.cfg.StreamID }

// Phase returns the current phase.
func (c *Call) Phase() Phase { return Phase(c.phase.Load()) }

// Seq returns the current sequence number.
func (c *Call) Seq() uint64 { return c.seq.Load() }

// Dropped returns how many inbound frames were evicted from the queue.
func (c *Call) Dropped() uint64 { return c.queue.Dropped() }

// Done is closed once Run has returned.
func (c *Call) Done() <-chan struct{} { return c.done }

// ─── Ingress (transport goroutine) ───────────────────────────────────────────

// Push enqueues one decoded frame. It never blocks. It returns
// [ErrFrameDropped] when an older frame was evicted and [ErrSessionNotFound]
// after close.
func (c *Call) Push(f audio.AudioFrame) error {
	err := c.queue.Push(f)
	if errors.Is(err, ErrFrameDropped) {
		c.metrics.FramesDropped.Add(c.ctx, 1)
	}
	return err
}

// PushMedia decodes a base64 mu-law payload stamped at ts and enqueues its
// frames. An undecodable payload is dropped and reported as [ErrDecode].
func (c *Call) PushMedia(payload string, ts time.Duration) error {
	if c.Phase() == PhaseClosed {
		return ErrSessionNotFound
	}
	frames, err := DecodeMedia(payload, c.cfg.FrameSizeBytes, c.cfg.SampleRate, ts)
	if err != nil {
		c.metrics.DecodeErrors.Add(c.ctx, 1)
		return err
	}
	var dropped error
	for _, f := range frames {
		if err := c.Push(f); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return err
			}
			dropped = err
		}
	}
	return dropped
}

// HandleMark records a carrier playback acknowledgement.
func (c *Call) HandleMark(name string) {
	c.log.Debug("session: playback acknowledged", "mark", name)
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Run processes the call until Close is called or ctx is cancelled. It must
// be called exactly once.
func (c *Call) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("session: Run called twice")
	}
	defer close(c.done)

	stop := context.AfterFunc(ctx, func() { c.cancel(context.Cause(ctx)) })
	defer stop()

	c.log.Info("session: call started", "stream_id", c.cfg.StreamID)
	for {
		if c.ctx.Err() != nil {
			c.teardown()
			return nil
		}
		select {
		case <-c.ctx.Done():
			c.teardown()
			return nil
		case <-c.queue.Ready():
			for {
				f, ok := c.queue.TryPop()
				if !ok {
					break
				}
				c.handleFrame(f)
				if c.ctx.Err() != nil {
					break
				}
			}
		case r := <-c.results:
			c.handleResult(r)
		case r := <-c.egressDone:
			c.handleEgressDone(r)
		}
	}
}

// Close ends the call. It is idempotent and safe to call from any goroutine.
// In-flight orchestration and playback are cancelled; their late results are
// discarded.
func (c *Call) Close() {
	c.closeOnce.Do(func() {
		c.queue.Close()
		c.cancel(errClosed)
	})
}

func (c *Call) teardown() {
	c.Close()
	if c.turnCancel != nil {
		c.turnCancel()
	}

	// The flushed segment is only reported: the caller is gone, so there is
	// nobody to reply to and no turn to record.
	if res := c.seg.Flush(); res.Outcome != segment.OutcomeNone {
		c.recordSegment(res)
		if res.Ready() {
			c.log.Info("session: segment pending at close not transcribed",
				"speech", res.Segment.SpeechDuration(),
			)
		}
	}
	c.transition(PhaseClosed)
	_ = c.vadSess.Close()
	c.wg.Wait()
	c.log.Info("session: call ended",
		"seq", c.Seq(),
		"frames_dropped", c.queue.Dropped(),
	)
}

// ─── Session goroutine ────────────────────────────────────────────────────────

func (c *Call) transition(to Phase) bool {
	from := c.Phase()
	if !from.CanTransition(to) {
		c.log.Warn("session: illegal transition ignored", "from", from, "to", to)
		return false
	}
	if from == PhaseListening || to == PhaseClosed {
		c.seq.Add(1)
	}
	c.phase.Store(int32(to))
	c.log.Debug("session: phase changed", "from", from, "to", to, "seq", c.Seq())
	if c.obs.OnTransition != nil {
		c.obs.OnTransition(from, to)
	}
	return true
}

func (c *Call) handleFrame(f audio.AudioFrame) {
	switch c.Phase() {
	case PhaseListening:
		ev, err := c.vadSess.ProcessFrame(f.Data)
		if err != nil {
			c.log.Warn("session: vad rejected frame", "err", err)
			return
		}
		res := c.seg.Push(f, ev)
		if res.Outcome == segment.OutcomeNone {
			return
		}
		c.recordSegment(res)
		if res.Ready() {
			c.dispatch(res.Segment)
		}
	case PhaseAwaitingResponse:
		if len(c.preroll) >= c.cfg.QueueFrames && len(c.preroll) > 0 {
			c.preroll = c.preroll[1:]
		}
		c.preroll = append(c.preroll, f)
	default:
		// Speaking: echo suppression. Closed: unreachable.
	}
}

func (c *Call) recordSegment(res segment.Result) {
	c.metrics.RecordSegment(c.ctx, res.Outcome.String())
	if res.Segment != nil {
		c.log.Debug("session: segment",
			"outcome", res.Outcome,
			"start", res.Segment.Start(),
			"duration", res.Segment.Duration(),
			"speech", res.Segment.SpeechDuration(),
		)
	}
	if c.obs.OnSegment != nil {
		c.obs.OnSegment(res)
	}
}

func (c *Call) dispatch(seg *segment.Segment) {
	if !c.transition(PhaseAwaitingResponse) {
		return
	}
	seq := c.Seq()
	turnCtx, cancel := context.WithCancel(c.ctx)
	c.turnCancel = cancel

	req := engine.Request{
		CallID:     c.cfg.CallID,
		Seq:        seq,
		Audio:      seg.PCM(),
		SampleRate: seg.SampleRate(),
		Language:   c.language,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		r := c.runTurn(turnCtx, req)
		select {
		case c.results <- r:
		case <-c.ctx.Done():
			c.discardStale(r.seq)
		}
	}()
}

// runTurn executes on its own goroutine.
func (c *Call) runTurn(ctx context.Context, req engine.Request) turnResult {
	req.History = c.loadHistory(ctx)
	resp, err := c.engine.Process(ctx, req)
	if err != nil {
		return turnResult{seq: req.Seq, err: err}
	}
	mulaw, err := Encode(resp.Audio, c.cfg.SampleRate)
	if err != nil {
		return turnResult{seq: req.Seq, err: fmt.Errorf("session: encode reply: %w: %w", ErrSynthesisUnavailable, err)}
	}
	return turnResult{seq: req.Seq, resp: resp, mulaw: mulaw}
}

func (c *Call) handleResult(r turnResult) {
	if c.ctx.Err() != nil || r.seq != c.Seq() || c.Phase() != PhaseAwaitingResponse {
		c.discardStale(r.seq)
		return
	}
	c.turnCancel = nil

	if r.err != nil {
		c.log.Warn("session: turn failed", "seq", r.seq, "reason", classify(r.err), "err", r.err)
		if c.obs.OnTurnError != nil {
			c.obs.OnTurnError(r.err)
		}
		if cue := c.cfg.FallbackCue.MuLaw(c.cfg.SampleRate); len(cue) > 0 {
			c.speak(cue, "")
			return
		}
		c.resumeListening()
		return
	}

	if r.resp.Language != "" {
		c.language = r.resp.Language
	}
	c.log.Info("session: replying",
		"seq", r.seq,
		"language", c.language,
		"transcript", r.resp.Transcript.Text,
		"reply", r.resp.Reply,
	)
	c.recordTurn(r.resp)
	c.speak(r.mulaw, "reply-"+uuid.NewString())
}

func (c *Call) speak(mulaw []byte, mark string) {
	if !c.transition(PhaseSpeaking) {
		return
	}
	seq := c.Seq()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.egress.Play(c.ctx, mulaw, mark)
		select {
		case c.egressDone <- egressResult{seq: seq, err: err}:
		case <-c.ctx.Done():
			if errors.Is(err, ErrEgressAborted) {
				c.metrics.EgressAborted.Add(context.WithoutCancel(c.ctx), 1)
				c.log.Info("session: playback aborted", "err", err)
			}
		}
	}()
}

func (c *Call) handleEgressDone(r egressResult) {
	if r.err != nil {
		if errors.Is(r.err, ErrEgressAborted) {
			c.metrics.EgressAborted.Add(c.ctx, 1)
		}
		c.log.Warn("session: playback failed", "seq", r.seq, "err", r.err)
	}
	if c.Phase() == PhaseSpeaking && r.seq == c.Seq() {
		c.resumeListening()
	}
}

func (c *Call) resumeListening() {
	if !c.transition(PhaseListening) {
		return
	}
	c.preroll = c.preroll[:0]
	c.vadSess.Reset()
	c.seg.Reset()
}

func (c *Call) discardStale(seq uint64) {
	c.metrics.StaleResults.Add(context.WithoutCancel(c.ctx), 1)
	c.log.Debug("session: discarding stale result", "seq", seq, "current", c.Seq())
	if c.obs.OnStale != nil {
		c.obs.OnStale(seq)
	}
}

// ─── History ──────────────────────────────────────────────────────────────────

func (c *Call) loadHistory(ctx context.Context) []types.Message {
	if c.history == nil || c.cfg.HistoryTurns <= 0 {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	return c.history.recent(hctx, c.cfg.HistoryTurns, c.cfg.HistoryTokens)
}

func (c *Call) recordTurn(resp *engine.Response) {
	if c.history == nil {
		return
	}
	now := time.Now()
	entries := []types.TranscriptEntry{
		{
			CallID:    c.cfg.CallID,
			Role:      types.RoleCaller,
			Text:      resp.Transcript.Text,
			Language:  resp.Transcript.Language,
			Timestamp: now,
			Duration:  resp.Transcript.Duration,
		},
		{
			CallID:    c.cfg.CallID,
			Role:      types.RoleAssistant,
			Text:      resp.Reply,
			Language:  resp.Language,
			Timestamp: now.Add(time.Millisecond),
			Duration:  resp.Audio.Duration(),
		},
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), historyTimeout)
		defer cancel()
		c.history.append(ctx, entries...)
	}()
}

// classify names the failed step for logs.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrTranscriptionUnavailable):
		return "transcription"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation"
	case errors.Is(err, ErrSynthesisUnavailable):
		return "synthesis"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
