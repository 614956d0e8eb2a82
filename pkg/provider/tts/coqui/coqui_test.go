package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio/wav"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/types"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		wantErr   bool
	}{
		{name: "valid", serverURL: "http://localhost:5002"},
		{name: "trailing slash", serverURL: "http://localhost:5002/"},
		{name: "empty", serverURL: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.serverURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.serverURL != "http://localhost:5002" {
				t.Errorf("serverURL = %q", p.serverURL)
			}
		})
	}
}

func TestNew_DefaultAPIMode(t *testing.T) {
	p, _ := New("http://localhost:5002")
	if p.apiMode != APIModeStandard {
		t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
	}
	p, _ = New("http://localhost:5002", WithAPIMode(APIModeXTTS), WithTimeout(time.Second))
	if p.apiMode != APIModeXTTS || p.httpClient.Timeout != time.Second {
		t.Errorf("options not applied: mode=%q timeout=%s", p.apiMode, p.httpClient.Timeout)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 4800)
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav.Encode(pcm, 24000, 1))
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	a, err := p.Synthesize(context.Background(), "Namaste", types.VoiceProfile{ID: "ref.wav", Language: "hi-IN"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.SampleRate != 24000 || a.Channels != 1 || len(a.PCM) != len(pcm) {
		t.Errorf("audio = %dHz/%dch/%dB", a.SampleRate, a.Channels, len(a.PCM))
	}
	if a.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %s, want 100ms", a.Duration())
	}
	if got.Text != "Namaste" || got.SpeakerWav != "ref.wav" || got.Language != "hi" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_Standard(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"text":        q.Get("text"),
			"speaker_id":  q.Get("speaker_id"),
			"language_id": q.Get("language_id"),
		}
		_, _ = w.Write(wav.Encode(make([]byte, 100), 22050, 2))
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL, WithLanguage("de"))
	a, err := p.Synthesize(context.Background(), "Hallo Welt", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.Channels != 2 || a.SampleRate != 22050 {
		t.Errorf("format = %s", a.Format())
	}
	if gotQuery["text"] != "Hallo Welt" || gotQuery["speaker_id"] != "" || gotQuery["language_id"] != "de" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "garbage" {
			_, _ = w.Write([]byte("not a wav"))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	std, _ := New(srv.URL)
	xtts, _ := New(srv.URL, WithAPIMode(APIModeXTTS))

	if _, err := std.Synthesize(context.Background(), " ", types.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v, want ErrEmptyText", err)
	}
	if _, err := xtts.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Error("xtts without voice ID: expected error")
	}
	if _, err := std.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Error("server error: expected error")
	}
	if _, err := std.Synthesize(context.Background(), "garbage", types.VoiceProfile{}); err == nil {
		t.Error("invalid WAV: expected error")
	}
}

func TestCoquiLanguage(t *testing.T) {
	tests := map[string]string{"": "", "en": "en", "hi-IN": "hi", "PT-br": "pt"}
	for in, want := range tests {
		if got := coquiLanguage(in); got != want {
			t.Errorf("coquiLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
