package deepgram_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio/wav"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/provider/stt/deepgram"
)

type captured struct {
	mu    sync.Mutex
	query url.Values
	auth  string
	ctype string
	body  []byte
}

func (c *captured) snapshot() (url.Values, string, string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query, c.auth, c.ctype, c.body
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/listen" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.query = r.URL.Query()
		got.auth = r.Header.Get("Authorization")
		got.ctype = r.Header.Get("Content-Type")
		got.body = body
		got.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

const detectedReply = `{"results":{"channels":[{"detected_language":"hi","alternatives":[{"transcript":" namaste ","confidence":0.91}]}]}}`

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := deepgram.New(""); err == nil {
		t.Error("New with empty key succeeded")
	}
}

func TestTranscribe_DetectsLanguage(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusOK, detectedReply)
	p, err := deepgram.New("dg-key", deepgram.WithBaseURL(srv.URL), deepgram.WithModel("nova-2-phonecall"))
	if err != nil {
		t.Fatal(err)
	}

	pcm := make([]byte, 16000) // 1 s at 8 kHz
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: pcm, SampleRate: 8000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "namaste" || tr.Language != "hi" || tr.Confidence != 0.91 {
		t.Errorf("transcript = %+v", tr)
	}
	if tr.Duration != time.Second {
		t.Errorf("duration = %v, want 1s", tr.Duration)
	}

	q, auth, ctype, body := got.snapshot()
	if auth != "Token dg-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if ctype != "audio/wav" {
		t.Errorf("Content-Type = %q", ctype)
	}
	if q.Get("model") != "nova-2-phonecall" || q.Get("detect_language") != "true" || q.Has("language") {
		t.Errorf("query = %v", q)
	}
	decoded, info, err := wav.Decode(body)
	if err != nil {
		t.Fatalf("uploaded body is not WAV: %v", err)
	}
	if info.SampleRate != 8000 || len(decoded) != len(pcm) {
		t.Errorf("uploaded %d bytes @ %d Hz", len(decoded), info.SampleRate)
	}
}

func TestTranscribe_LanguageHint(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusOK, `{"results":{"channels":[{"alternatives":[{"transcript":"hello"}]}]}}`)

	tests := []struct {
		name     string
		fallback string
		hint     string
		want     string
	}{
		{"request hint wins", "en", "ta-IN", "ta-IN"},
		{"configured default", "en-IN", "", "en-IN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := deepgram.New("k", deepgram.WithBaseURL(srv.URL), deepgram.WithLanguage(tt.fallback))
			if err != nil {
				t.Fatal(err)
			}
			tr, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 8000, Language: tt.hint})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			q, _, _, _ := got.snapshot()
			if q.Get("language") != tt.want || q.Has("detect_language") {
				t.Errorf("query = %v, want language=%s", q, tt.want)
			}
			if tr.Language != tt.want {
				t.Errorf("transcript language = %q, want %q", tr.Language, tt.want)
			}
		})
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	p, _ := deepgram.New("k")
	if _, err := p.Transcribe(context.Background(), stt.Request{SampleRate: 8000}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("empty audio err = %v", err)
	}

	srv, _ := newServer(t, http.StatusUnauthorized, `{"err_msg":"Invalid credentials."}`)
	p, _ = deepgram.New("bad", deepgram.WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 8000})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Errorf("err = %v, want HTTP 401 with body", err)
	}

	srv, _ = newServer(t, http.StatusOK, `not json`)
	p, _ = deepgram.New("k", deepgram.WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 8000}); err == nil {
		t.Error("malformed response accepted")
	}
}

func TestTranscribe_EmptyResult(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, http.StatusOK, `{"results":{"channels":[]}}`)
	p, _ := deepgram.New("k", deepgram.WithBaseURL(srv.URL))

	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 8000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text = %q, want empty", tr.Text)
	}
}
