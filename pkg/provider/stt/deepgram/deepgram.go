// Package deepgram provides an STT provider backed by Deepgram's pre-recorded
// transcription API (POST /v1/listen).
//
// A finished speech segment is uploaded as a WAV file in a single request.
// Without a language hint the request asks Deepgram to detect the language,
// and the detected code is returned on the transcript so later turns can
// stick to it.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/audio/wav"
	"github.com/MrWong99/phonebridge/pkg/provider/stt"
	"github.com/MrWong99/phonebridge/pkg/types"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"
	listenPath     = "/v1/listen"
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model (e.g. "nova-3", "nova-2-phonecall").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage pins the recognition language when a request carries no hint.
// Empty (the default) enables language detection.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURL points the provider at a different API host.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [stt.Provider]. It is safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if len(req.Audio) < 2 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}

	body := wav.Encode(req.Audio, req.SampleRate, 1)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+listenPath+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: listen: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("deepgram: listen returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out listenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: decode response: %w", err)
	}

	tr := types.Transcript{
		Language: lang,
		Duration: audio.PCMDuration(len(req.Audio), req.SampleRate, 1),
	}
	if len(out.Results.Channels) == 0 {
		return tr, nil
	}
	ch := out.Results.Channels[0]
	if ch.DetectedLanguage != "" {
		tr.Language = ch.DetectedLanguage
	}
	if len(ch.Alternatives) > 0 {
		tr.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		tr.Confidence = ch.Alternatives[0].Confidence
	}
	return tr, nil
}
