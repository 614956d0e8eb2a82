package sarvam_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/phonebridge/pkg/provider/sarvam"
	trsarvam "github.com/MrWong99/phonebridge/pkg/provider/translate/sarvam"
)

func newProvider(t *testing.T, h http.HandlerFunc) *trsarvam.Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := sarvam.New("k", sarvam.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("sarvam.New: %v", err)
	}
	return trsarvam.New(c)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	var got map[string]any
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"translated_text":" नमस्ते "}`))
	})

	out, err := p.Translate(context.Background(), "Hello", "en-IN", "hi-IN")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "नमस्ते" {
		t.Errorf("out = %q", out)
	}

	want := map[string]any{
		"input":                "Hello",
		"source_language_code": "en-IN",
		"target_language_code": "hi-IN",
		"speaker_gender":       "Male",
		"mode":                 "formal",
		"model":                "mayura:v1",
		"enable_preprocessing": true,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestTranslate_SameLanguageSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})
	out, err := p.Translate(context.Background(), "Hello", "en-IN", "EN-in")
	if err != nil || out != "Hello" {
		t.Errorf("Translate = %q, %v; want Hello, nil", out, err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestTranslate_EmptyResultKeepsInput(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	out, err := p.Translate(context.Background(), "Hello", "en-IN", "ta-IN")
	if err != nil || out != "Hello" {
		t.Errorf("Translate = %q, %v; want Hello, nil", out, err)
	}
}

func TestTranslate_Error(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	if _, err := p.Translate(context.Background(), "Hello", "en-IN", "ta-IN"); err == nil {
		t.Fatal("expected error")
	}
}
