// Package transcription defines the batch transcription contract, its error
// taxonomy and the retry policy applied around every provider call.
package transcription

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/obiente/translate/govoice/internal/registry"
)

// MaxFileSize is the upload limit shared by the hosted whisper APIs.
const MaxFileSize = 25 * 1024 * 1024

// Request is one transcription call. Audio is a complete WAV container.
type Request struct {
	Audio    []byte
	Language string
	Prompt   string
}

// NormalizeLanguage maps "auto" and blank hints to "".
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// Provider turns a WAV container into text.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Providers holds every compiled-in backend; packages register in init.
var Providers = registry.New[Provider]()

// New resolves name from Providers, mapping an unknown name to UnsupportedProvider.
func New(name string, s registry.Settings) (Provider, error) {
	p, err := Providers.Create(name, s)
	if errors.Is(err, registry.ErrUnknown) {
		return nil, UnsupportedProvider(name)
	}
	return p, err
}

// CheckSize fails with FileTooLarge when audio exceeds MaxFileSize.
func CheckSize(audio []byte) error {
	if len(audio) > MaxFileSize {
		return FileTooLarge(len(audio), MaxFileSize)
	}
	return nil
}

// TransportError classifies a failed request that never produced a response.
func TransportError(provider string, err error) *Error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return NetworkError(provider, "timeout", err)
	case errors.As(err, &ne):
		return NetworkError(provider, "connection", err)
	}
	return NetworkError(provider, "request", err)
}
