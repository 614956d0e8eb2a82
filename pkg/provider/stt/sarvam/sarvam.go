// Package sarvam provides an STT provider backed by Sarvam AI's
// speech-to-text-translate endpoint.
//
// The endpoint recognizes speech in any supported Indic language (or English)
// and returns the transcript translated to English, together with the
// language code of what the caller actually spoke. The orchestrator keeps that
// language so replies can be translated back and synthesized in the caller's
// own language.
package sarvam

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/audio/wav"
	"github.com/MrWong99/phonebridge/pkg/provider/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/types"
)

const (
	defaultModel = "saaras:v1"
	endpoint     = "/speech-to-text-translate"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the recognition model. Defaults to "saaras:v1".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithPrompt sets a free-text context prompt forwarded with every request.
func WithPrompt(prompt string) Option {
	return func(p *Provider) {
		p.prompt = prompt
	}
}

// Provider implements stt.Provider using Sarvam AI.
type Provider struct {
	client *sarvam.Client
	model  string
	prompt string
}

// New creates a Provider that uses client for all requests.
func New(client *sarvam.Client, opts ...Option) *Provider {
	p := &Provider{client: client, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

type response struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

// Transcribe implements stt.Provider. The request's language hint is ignored;
// the API always detects the spoken language itself.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if len(req.Audio) < 2 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("sarvam: stt: create form file: %w", err)
	}
	if _, err := fw.Write(wav.Encode(req.Audio, req.SampleRate, 1)); err != nil {
		return types.Transcript{}, fmt.Errorf("sarvam: stt: write wav data: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return types.Transcript{}, fmt.Errorf("sarvam: stt: write model field: %w", err)
	}
	if p.prompt != "" {
		if err := mw.WriteField("prompt", p.prompt); err != nil {
			return types.Transcript{}, fmt.Errorf("sarvam: stt: write prompt field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Transcript{}, fmt.Errorf("sarvam: stt: close multipart writer: %w", err)
	}

	var resp response
	if err := p.client.Do(ctx, endpoint, mw.FormDataContentType(), &body, &resp); err != nil {
		return types.Transcript{}, err
	}

	lang := resp.LanguageCode
	if lang == "" {
		lang = sarvam.DefaultLanguage
	}
	return types.Transcript{
		Text:     strings.TrimSpace(resp.Transcript),
		Language: lang,
		Duration: audio.PCMDuration(len(req.Audio), req.SampleRate, 1),
	}, nil
}
