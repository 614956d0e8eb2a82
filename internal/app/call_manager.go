package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/phonebridge/internal/engine"
	"github.com/MrWong99/phonebridge/internal/observe"
	"github.com/MrWong99/phonebridge/internal/session"
	"github.com/MrWong99/phonebridge/internal/telephony"
	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/provider/vad"
)

// LanguageParameter is the stream custom parameter that presets a call's
// language before the caller has spoken.
const LanguageParameter = "language"

var (
	// ErrDuplicateCall is returned by [CallManager.Accept] when a call with
	// the same id is already active.
	ErrDuplicateCall = errors.New("app: call already active")

	// ErrShuttingDown is returned by [CallManager.Accept] after
	// [CallManager.Shutdown] has started.
	ErrShuttingDown = errors.New("app: shutting down")
)

// CallTemplate is what every new call is built from. CallID and StreamID of
// Session are filled per call.
type CallTemplate struct {
	Session session.Config
	Engine  engine.Engine

	// Language presets the sticky caller language. Empty leaves it to
	// recognition.
	Language string
}

// CallInfo describes an active call.
type CallInfo struct {
	CallSID    string
	StreamSID  string
	AccountSID string
	StartedAt  time.Time
	Phase      session.Phase
	Seq        uint64
}

// forgetter is implemented by history stores that hold turns in process
// memory. Their entries are dropped once a call ends.
type forgetter interface {
	Forget(callID string)
}

type callRecord struct {
	call *session.Call
	info telephony.StartInfo
	at   time.Time
}

// CallManager owns every active call. Each call gets its own session
// goroutine; nothing but the shared engine, VAD engine and history store is
// shared between calls. CallManager implements [telephony.Acceptor] and is
// safe for concurrent use.
type CallManager struct {
	tmpl atomic.Pointer[CallTemplate]

	vad      vad.Engine
	history  memory.SessionStore
	metrics  *observe.Metrics
	log      *slog.Logger
	callOpts []session.Option

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	calls   map[string]*callRecord
	closing bool
}

var _ telephony.Acceptor = (*CallManager)(nil)

// ManagerOption configures a [CallManager].
type ManagerOption func(*CallManager)

// WithManagerVAD sets the VAD engine calls create their sessions from. Nil
// keeps the session default.
func WithManagerVAD(e vad.Engine) ManagerOption {
	return func(m *CallManager) { m.vad = e }
}

// WithManagerHistory sets the conversation history store.
func WithManagerHistory(s memory.SessionStore) ManagerOption {
	return func(m *CallManager) { m.history = s }
}

// WithManagerMetrics overrides [observe.DefaultMetrics].
func WithManagerMetrics(mt *observe.Metrics) ManagerOption {
	return func(m *CallManager) { m.metrics = mt }
}

// WithManagerLogger sets the base logger. Per-call loggers add call_id and
// stream_sid.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *CallManager) { m.log = l }
}

// WithCallOptions appends options applied to every new call after the
// manager's own.
func WithCallOptions(opts ...session.Option) ManagerOption {
	return func(m *CallManager) { m.callOpts = append(m.callOpts, opts...) }
}

// NewCallManager creates a CallManager building calls from tmpl.
func NewCallManager(tmpl CallTemplate, opts ...ManagerOption) *CallManager {
	m := &CallManager{calls: make(map[string]*callRecord)}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.base, m.cancel = context.WithCancel(context.Background())
	m.tmpl.Store(&tmpl)
	return m
}

// SetTemplate replaces the template for calls accepted from now on. Running
// calls keep the settings they started with.
func (m *CallManager) SetTemplate(tmpl CallTemplate) {
	m.tmpl.Store(&tmpl)
}

// Template returns the current call template.
func (m *CallManager) Template() CallTemplate {
	return *m.tmpl.Load()
}

// Accept creates and starts the call for a new media stream. The call runs
// until the carrier stops the stream, the connection drops or the manager
// shuts down; it is deregistered when its session goroutine exits.
func (m *CallManager) Accept(_ context.Context, info telephony.StartInfo, sink audio.Sink) (telephony.Stream, error) {
	tmpl := m.tmpl.Load()

	cfg := tmpl.Session
	cfg.CallID = info.CallSID
	cfg.StreamID = info.StreamSID
	if info.SampleRate > 0 {
		cfg.SampleRate = info.SampleRate
	}

	log := m.log.With("call_id", info.CallSID, "stream_sid", info.StreamSID)
	opts := []session.Option{
		session.WithLogger(log),
		session.WithMetrics(m.metrics),
	}
	if m.vad != nil {
		opts = append(opts, session.WithVAD(m.vad))
	}
	if m.history != nil {
		opts = append(opts, session.WithHistory(m.history))
	}
	lang := tmpl.Language
	if v := info.CustomParameters[LanguageParameter]; v != "" {
		lang = v
	}
	if lang != "" {
		opts = append(opts, session.WithLanguage(lang))
	}
	opts = append(opts, m.callOpts...)

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, dup := m.calls[info.CallSID]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, info.CallSID)
	}
	call, err := session.New(cfg, tmpl.Engine, sink, opts...)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("app: new call %s: %w", info.CallSID, err)
	}
	m.calls[info.CallSID] = &callRecord{call: call, info: info, at: time.Now()}
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.ActiveCalls.Add(m.base, 1)
	go m.run(call, log)
	return call, nil
}

func (m *CallManager) run(call *session.Call, log *slog.Logger) {
	defer m.wg.Done()
	if err := call.Run(m.base); err != nil {
		log.Error("app: call failed", "err", err)
	}

	m.mu.Lock()
	if rec, ok := m.calls[call.ID()]; ok && rec.call == call {
		delete(m.calls, call.ID())
	}
	m.mu.Unlock()
	if f, ok := m.history.(forgetter); ok {
		f.Forget(call.ID())
	}
	m.metrics.ActiveCalls.Add(context.Background(), -1)
}

// Get returns the active call with the given id.
func (m *CallManager) Get(callSID string) (*session.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callSID]
	if !ok {
		return nil, false
	}
	return rec.call, true
}

// Len returns the number of active calls.
func (m *CallManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls lists the active calls, oldest first.
func (m *CallManager) Calls() []CallInfo {
	m.mu.Lock()
	out := make([]CallInfo, 0, len(m.calls))
	for _, rec := range m.calls {
		out = append(out, CallInfo{
			CallSID:    rec.info.CallSID,
			StreamSID:  rec.info.StreamSID,
			AccountSID: rec.info.AccountSID,
			StartedAt:  rec.at,
			Phase:      rec.call.Phase(),
			Seq:        rec.call.Seq(),
		})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b CallInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.CallSID, b.CallSID))
	})
	return out
}

// End closes the call with the given id locally. It reports whether the
// call was active.
func (m *CallManager) End(callSID string) bool {
	call, ok := m.Get(callSID)
	if ok {
		call.Close()
	}
	return ok
}

// Shutdown stops accepting calls, closes every active call and waits for
// their session goroutines until ctx is done.
func (m *CallManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	active := make([]*session.Call, 0, len(m.calls))
	for _, rec := range m.calls {
		active = append(active, rec.call)
	}
	m.mu.Unlock()

	m.log.Info("app: closing calls", "active", len(active))
	for _, c := range active {
		c.Close()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for calls: %w", ctx.Err())
	}
}
