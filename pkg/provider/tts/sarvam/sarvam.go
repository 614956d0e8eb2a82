// Package sarvam provides a TTS provider backed by Sarvam AI's
// /text-to-speech endpoint (model bulbul).
//
// The API returns base64-encoded WAV files; the provider decodes the first one
// into PCM at whatever rate the API chose.
package sarvam

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/phonebridge/pkg/audio/wav"
	"github.com/MrWong99/phonebridge/pkg/provider/sarvam"
	"github.com/MrWong99/phonebridge/pkg/provider/tts"
	"github.com/MrWong99/phonebridge/pkg/types"
)

const (
	defaultModel   = "bulbul:v1"
	defaultSpeaker = "meera"
	endpoint       = "/text-to-speech"

	// MaxInputRunes is the longest input the API accepts per request. Longer
	// text is truncated.
	MaxInputRunes = 500
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the synthesis model. Defaults to "bulbul:v1".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithSpeaker sets the default speaker used when the voice profile has no ID.
// Defaults to "meera".
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		if speaker != "" {
			p.speaker = speaker
		}
	}
}

// Provider implements tts.Provider using Sarvam AI.
type Provider struct {
	client  *sarvam.Client
	model   string
	speaker string
}

// New creates a Provider that uses client for all requests.
func New(client *sarvam.Client, opts ...Option) *Provider {
	p := &Provider{client: client, model: defaultModel, speaker: defaultSpeaker}
	for _, o := range opts {
		o(p)
	}
	return p
}

type request struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	Model              string   `json:"model"`
	Pace               float64  `json:"pace,omitempty"`
}

type response struct {
	Audios []string `json:"audios"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Audio, error) {
	text = truncate(strings.TrimSpace(text), MaxInputRunes)
	if text == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	lang := voice.Language
	if lang == "" {
		lang = sarvam.DefaultLanguage
	}
	speaker := voice.ID
	if speaker == "" {
		speaker = p.speaker
	}

	var resp response
	err := p.client.PostJSON(ctx, endpoint, request{
		Inputs:             []string{text},
		TargetLanguageCode: lang,
		Speaker:            speaker,
		Model:              p.model,
		Pace:               voice.SpeedFactor,
	}, &resp)
	if err != nil {
		return tts.Audio{}, err
	}
	if len(resp.Audios) == 0 || resp.Audios[0] == "" {
		return tts.Audio{}, errors.New("sarvam: tts: no audio in response")
	}

	file, err := base64.StdEncoding.DecodeString(resp.Audios[0])
	if err != nil {
		return tts.Audio{}, fmt.Errorf("sarvam: tts: decode base64 audio: %w", err)
	}
	pcm, info, err := wav.Decode(file)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("sarvam: tts: %w", err)
	}
	return tts.Audio{PCM: pcm, SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// truncate cuts s to at most n runes without splitting a multi-byte character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
