// Package openai implements the OpenAI-compatible /audio/transcriptions upload.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/transcription"
)

const (
	Name           = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "whisper-1"
)

func init() {
	transcription.Providers.Register(Name, func(s registry.Settings) (transcription.Provider, error) {
		return New(s)
	})
}

// Provider uploads a finished recording as multipart form data.
type Provider struct {
	client *resty.Client
	model  string
}

// New builds a provider from settings: api_key, base_url, model, timeout_seconds.
func New(s registry.Settings) (*Provider, error) {
	key := s.Get("api_key", "")
	if key == "" {
		return nil, transcription.ConfigurationError("OPENAI_API_KEY is required for the %s provider", Name)
	}
	return &Provider{
		client: NewClient(s.Get("base_url", DefaultBaseURL), key, TimeoutFrom(s)),
		model:  s.Get("model", DefaultModel),
	}, nil
}

// NewClient configures a resty client for the OpenAI audio API.
func NewClient(baseURL, apiKey string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// TimeoutFrom reads timeout_seconds, defaulting to 30 s.
func TimeoutFrom(s registry.Settings) time.Duration {
	if n, err := strconv.Atoi(s.Get("timeout_seconds", "30")); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 30 * time.Second
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	if err := transcription.CheckSize(req.Audio); err != nil {
		return "", err
	}
	form := map[string]string{"model": p.model, "response_format": "json"}
	if lang := transcription.NormalizeLanguage(req.Language); lang != "" {
		form["language"] = lang
	}
	if req.Prompt != "" {
		form["prompt"] = req.Prompt
	}

	start := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("file", "audio.wav", bytes.NewReader(req.Audio)).
		SetFormData(form).
		Post("/audio/transcriptions")
	if err != nil {
		return "", transcription.TransportError(Name, err)
	}
	log.Debug().
		Int("status", resp.StatusCode()).
		Int("bytes", len(req.Audio)).
		Dur("took", time.Since(start)).
		Msg("openai: transcription response")
	return ParseResponse(Name, resp.StatusCode(), resp.Body())
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ParseResponse maps an /audio/transcriptions response to text or a typed error.
func ParseResponse(provider string, status int, body []byte) (string, error) {
	switch {
	case status == http.StatusUnauthorized:
		return "", transcription.AuthenticationFailed(provider)
	case status == http.StatusRequestEntityTooLarge:
		return "", transcription.FileTooLarge(0, transcription.MaxFileSize)
	case status < 200 || status >= 300:
		var eb apiErrorBody
		msg := http.StatusText(status)
		code := ""
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
			switch c := eb.Error.Code.(type) {
			case string:
				code = c
			case float64:
				code = strconv.Itoa(int(c))
			}
			if code == "" {
				code = eb.Error.Type
			}
		}
		return "", transcription.APIError(provider, status, code, msg, string(body))
	}

	var out struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", transcription.JSONError(provider, err)
	}
	if out.Text == nil {
		return "", transcription.APIError(provider, status, "", "response has no text field", string(body))
	}
	return *out.Text, nil
}
