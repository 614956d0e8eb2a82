// Package sarvam provides a translation provider backed by Sarvam AI's
// /translate endpoint (model mayura).
package sarvam

import (
	"context"
	"strings"

	"github.com/MrWong99/phonebridge/pkg/provider/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/translate"
)

const (
	defaultModel  = "mayura:v1"
	defaultMode   = "formal"
	defaultGender = "Male"
	endpoint      = "/translate"
)

// Compile-time assertion that Provider implements translate.Provider.
var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the translation model. Defaults to "mayura:v1".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMode sets the translation register ("formal", "code-mixed", ...).
func WithMode(mode string) Option {
	return func(p *Provider) {
		if mode != "" {
			p.mode = mode
		}
	}
}

// WithSpeakerGender sets the grammatical gender used for first-person forms.
func WithSpeakerGender(g string) Option {
	return func(p *Provider) {
		if g != "" {
			p.gender = g
		}
	}
}

// Provider implements translate.Provider using Sarvam AI.
type Provider struct {
	client *sarvam.Client
	model  string
	mode   string
	gender string
}

// New creates a Provider that uses client for all requests.
func New(client *sarvam.Client, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		model:  defaultModel,
		mode:   defaultMode,
		gender: defaultGender,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type request struct {
	Input               string `json:"input"`
	SourceLanguageCode  string `json:"source_language_code"`
	TargetLanguageCode  string `json:"target_language_code"`
	SpeakerGender       string `json:"speaker_gender"`
	Mode                string `json:"mode"`
	Model               string `json:"model"`
	EnablePreprocessing bool   `json:"enable_preprocessing"`
}

type response struct {
	TranslatedText string `json:"translated_text"`
}

// Translate implements translate.Provider. An empty translation from the API
// is treated as "nothing to change" and returns text unchanged.
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if text == "" || strings.EqualFold(source, target) {
		return text, nil
	}
	var resp response
	err := p.client.PostJSON(ctx, endpoint, request{
		Input:               text,
		SourceLanguageCode:  source,
		TargetLanguageCode:  target,
		SpeakerGender:       p.gender,
		Mode:                p.mode,
		Model:               p.model,
		EnablePreprocessing: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.TranslatedText)
	if out == "" {
		return text, nil
	}
	return out, nil
}
