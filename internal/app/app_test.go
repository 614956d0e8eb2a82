package app_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/phonebridge/internal/app"
	"github.com/MrWong99/phonebridge/internal/config"
	"github.com/MrWong99/phonebridge/internal/engine"
	enginemock "github.com/MrWong99/phonebridge/internal/engine/mock"
	"github.com/MrWong99/phonebridge/internal/health"
	"github.com/MrWong99/phonebridge/internal/telephony"
	"github.com/MrWong99/phonebridge/pkg/audio/g711"
	"github.com/MrWong99/phonebridge/pkg/memory/inmem"
	llmmock "github.com/MrWong99/phonebridge/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/phonebridge/pkg/provider/stt/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	ttsmock "github.com/MrWong99/phonebridge/pkg/provider/tts/mock"
	"github.com/MrWong99/phonebridge/pkg/types"
)

const testYAML = `
server:
  public_host: bridge.example.com
audio:
  queue_frames: 1024
conversation:
  system_prompt: Be brief.
providers:
  stt: {name: sarvam}
  llm: {name: openai}
  tts: {name: sarvam}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT: &sttmock.Provider{Result: types.Transcript{Text: "hello", Language: "en-IN"}},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{Result: tts.Audio{PCM: make([]byte, 4*320), SampleRate: 8000, Channels: 1}},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithSessionStore(inmem.New())}, opts...)
	a, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return a
}

type fakePlacer struct {
	mu      sync.Mutex
	created []string
	hungUp  []string
}

func (p *fakePlacer) CreateCall(_ context.Context, to, _, _ string) (*telephony.CallResource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, to)
	return &telephony.CallResource{SID: "CA-out", Status: "queued", To: to}, nil
}

func (p *fakePlacer) Hangup(_ context.Context, sid string) (*telephony.CallResource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hungUp = append(p.hungUp, sid)
	return &telephony.CallResource{SID: sid, Status: "completed"}, nil
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestNew_RequiresCascadeProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{STT: &sttmock.Provider{}},
		app.WithSessionStore(inmem.New()))
	if err == nil {
		t.Fatal("expected error without llm and tts providers")
	}
	for _, want := range []string{"llm provider", "tts provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNew_BuildsCallTemplateFromConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Audio.FallbackCue = "beep"
	cfg.Audio.MinSpeechMs = 600
	cfg.Conversation.HistoryTurns = -1

	a := newApp(t, cfg)
	sc := a.Calls().Template().Session
	if sc.QueueFrames != 1024 || sc.FallbackCue != "beep" {
		t.Errorf("session config = %+v", sc)
	}
	if sc.Segment.MinSpeech != 600*time.Millisecond || sc.Segment.EndOfSpeechSilence != time.Second {
		t.Errorf("segment = %+v", sc.Segment)
	}
	if sc.HistoryTurns != 0 {
		t.Errorf("history turns = %d, negative config disables history", sc.HistoryTurns)
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	placer := &fakePlacer{}
	a := newApp(t, testConfig(t), app.WithCallPlacer(placer),
		app.WithHealthCheckers(health.Checker{Name: "extra", Check: func(context.Context) error { return nil }}))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		method, path, body string
		code               int
		contains           string
	}{
		{http.MethodPost, "/voice", "", http.StatusOK, "wss://bridge.example.com/ws/media-stream"},
		{http.MethodGet, "/health", "", http.StatusOK, `"status":"healthy"`},
		{http.MethodGet, "/healthz", "", http.StatusOK, `"active_calls":0`},
		{http.MethodGet, "/readyz", "", http.StatusOK, `"extra":"ok"`},
		{http.MethodPost, "/outbound-call", `{"to":"+15550001","webhook_url":"https://bridge.example.com/voice"}`, http.StatusOK, `"call_sid":"CA-out"`},
		{http.MethodPost, "/calls/CA-out/hangup", "", http.StatusOK, `"status":"completed"`},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("%s %s: code = %d, want %d (%s)", tt.method, tt.path, resp.StatusCode, tt.code, body)
		}
		if !strings.Contains(string(body), tt.contains) {
			t.Errorf("%s %s: body %s does not contain %s", tt.method, tt.path, body, tt.contains)
		}
	}
	if len(placer.created) != 1 || len(placer.hungUp) != 1 {
		t.Errorf("placer = %+v", placer)
	}
}

func TestApp_NoCarrierCredentialsDisablesCallAPI(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound-call", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404 without a carrier client", rec.Code)
	}
}

func mulawPayload(amp int16) string {
	pcm := make([]byte, 320)
	for j := range 160 {
		v := amp
		if j%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(pcm[j*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(g711.EncodeMuLaw(pcm))
}

func TestApp_MediaStreamTurn(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{Result: &engine.Response{
		Transcript: types.Transcript{Text: "hello"},
		Language:   "en-IN",
		Reply:      "Hi!",
		Audio:      tts.Audio{PCM: make([]byte, 3*320), SampleRate: 8000, Channels: 1},
	}}
	a := newApp(t, testConfig(t), app.WithEngine(eng))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+telephony.DefaultMediaPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	send := func(v any) {
		t.Helper()
		b, _ := json.Marshal(v)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	send(map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start": map[string]any{
			"streamSid":   "MZ1",
			"callSid":     "CA1",
			"accountSid":  "AC1",
			"mediaFormat": map[string]any{"encoding": telephony.EncodingMuLaw, "sampleRate": 8000, "channels": 1},
		},
	})
	for i := range 120 {
		amp := int16(50)
		if i < 60 {
			amp = 800
		}
		send(map[string]any{
			"event":     "media",
			"streamSid": "MZ1",
			"media": map[string]any{
				"track":     "inbound",
				"timestamp": strconv.Itoa(i * 20),
				"payload":   mulawPayload(amp),
			},
		})
	}

	var media int
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v (after %d media messages)", err, media)
		}
		var msg struct {
			Event     string `json:"event"`
			StreamSID string `json:"streamSid"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg.StreamSID != "MZ1" {
			t.Errorf("streamSid = %q", msg.StreamSID)
		}
		if msg.Event == "media" {
			media++
			continue
		}
		if msg.Event == "mark" {
			break
		}
	}
	if media != 3 {
		t.Errorf("received %d media messages, want 3", media)
	}
	if a.Calls().Len() != 1 {
		t.Errorf("active calls = %d, want 1", a.Calls().Len())
	}
	if c := eng.Calls(); len(c) != 1 || c[0].CallID != "CA1" {
		t.Errorf("engine calls = %+v", c)
	}

	send(map[string]any{"event": "stop", "streamSid": "MZ1", "stop": map[string]any{"callSid": "CA1"}})
	deadline := time.Now().Add(5 * time.Second)
	for a.Calls().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("call not deregistered after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t))
	before := a.Calls().Template()

	next := testConfig(t)
	next.Audio.SilenceThresholdRMS = 450
	next.Conversation.SystemPrompt = "Be chatty."
	next.Server.ListenAddr = ":9999"
	a.Reload(next)

	after := a.Calls().Template()
	if after.Session.SilenceThresholdRMS != 450 {
		t.Errorf("threshold = %v, want 450", after.Session.SilenceThresholdRMS)
	}
	if after.Engine == before.Engine {
		t.Error("conversation change should rebuild the engine")
	}
	cfg := a.Config()
	if cfg.Conversation.SystemPrompt != "Be chatty." {
		t.Errorf("prompt = %q", cfg.Conversation.SystemPrompt)
	}
	if cfg.Server.ListenAddr == ":9999" {
		t.Error("restart-only change was applied")
	}

	bad := testConfig(t)
	bad.Audio.FallbackCue = "gong"
	a.Reload(bad)
	if a.Calls().Template().Session.FallbackCue != after.Session.FallbackCue {
		t.Error("invalid reload replaced the template")
	}
}
