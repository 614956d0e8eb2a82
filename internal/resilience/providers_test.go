package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/phonebridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/phonebridge/pkg/provider/llm/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	sttmock "github.com/MrWong99/phonebridge/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/phonebridge/pkg/provider/translate/mock"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	ttsmock "github.com/MrWong99/phonebridge/pkg/provider/tts/mock"
	"github.com/MrWong99/phonebridge/pkg/types"
)

func TestSTTFallback(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errVendor}
	secondary := &sttmock.Provider{Result: types.Transcript{Text: "namaste", Language: "hi-IN"}}

	fb := NewSTTFallback(primary, "sarvam", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte{1, 2}, SampleRate: 8000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "namaste" {
		t.Errorf("text = %q", got.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}
	if fb.Group().Breaker("sarvam").Name() != "stt/sarvam" {
		t.Errorf("breaker name = %q", fb.Group().Breaker("sarvam").Name())
	}
}

func TestSTTFallback_EmptyTranscriptIsSuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{Result: types.Transcript{Text: "other"}}
	fb := NewSTTFallback(primary, "sarvam", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{})
	if err != nil || got.Text != "" {
		t.Fatalf("got %q, %v", got.Text, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("empty transcript must not fail over")
	}
}

func TestLLMFallback(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{Err: errVendor}
	secondary := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "Hello!"}}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "Be brief."})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Req.SystemPrompt != "Be brief." {
		t.Errorf("secondary calls = %+v", calls)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(&llmmock.Provider{Err: errVendor}, "openai", FallbackConfig{})
	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errVendor) {
		t.Fatalf("err = %v", err)
	}
}

func TestTTSFallback_VoiceIDOnlyForPrimary(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Err: errVendor}
	secondary := &ttsmock.Provider{Result: tts.Audio{PCM: make([]byte, 320), SampleRate: 8000}}

	fb := NewTTSFallback(primary, "sarvam", FallbackConfig{})
	fb.AddFallback("elevenlabs", secondary)

	voice := types.VoiceProfile{ID: "meera", Language: "hi-IN"}
	audio, err := fb.Synthesize(context.Background(), "namaste", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio.PCM) != 320 {
		t.Errorf("pcm len = %d", len(audio.PCM))
	}
	if got := primary.Calls[0].Voice.ID; got != "meera" {
		t.Errorf("primary voice id = %q", got)
	}
	if got := secondary.Calls[0].Voice; got.ID != "" || got.Language != "hi-IN" {
		t.Errorf("fallback voice = %+v, want language only", got)
	}
}

func TestTranslateGuard_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	p := &translatemock.Provider{Err: errVendor}
	g := NewTranslateGuard(p, "sarvam", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})

	if _, err := g.Translate(context.Background(), "hi", "en-IN", "hi-IN"); !errors.Is(err, errVendor) {
		t.Fatalf("err = %v", err)
	}
	_, err := g.Translate(context.Background(), "hi", "en-IN", "hi-IN")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", p.CallCount())
	}
}
