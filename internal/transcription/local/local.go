// Package local runs transcription in-process with a whisper.cpp model.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/transcription"
	"github.com/obiente/translate/govoice/internal/whisper"
)

const (
	Name = "local"
	// ModelBaseURL hosts the ggml model files.
	ModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
)

func init() {
	transcription.Providers.Register(Name, func(s registry.Settings) (transcription.Provider, error) {
		path := s.Get("model_path", "./models/ggml-base.en.bin")
		if s.Get("download", "") == "true" {
			if err := EnsureModel(context.Background(), ModelBaseURL, path); err != nil {
				return nil, transcription.ConfigurationError("download model: %v", err)
			}
		}
		threads, _ := strconv.Atoi(s.Get("threads", "0"))
		eng, err := whisper.NewEngine(path, threads)
		if err != nil {
			return nil, transcription.ConfigurationError("local whisper: %v", err)
		}
		return New(eng), nil
	})
}

type Provider struct {
	engine whisper.Engine
}

func New(engine whisper.Engine) *Provider {
	return &Provider{engine: engine}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	samples, sr, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return "", transcription.ConfigurationError("decode wav: %v", err)
	}
	if sr != whisper.SampleRate {
		samples = audio.ResampleLinear(samples, sr, whisper.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	text, lang, err := p.engine.Transcribe(samples, transcription.NormalizeLanguage(req.Language))
	if err != nil {
		return "", transcription.EngineError(Name, err)
	}
	log.Debug().Str("lang", lang).Dur("took", time.Since(start)).Msg("local: transcription complete")
	return text, nil
}

func (p *Provider) Close() error { return p.engine.Close() }

// EnsureModel downloads the named ggml file into path unless it already exists.
func EnsureModel(ctx context.Context, baseURL, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	url := baseURL + "/" + filepath.Base(path)
	tmp := path + ".part"
	log.Info().Str("url", url).Str("path", path).Msg("local: downloading model")
	resp, err := resty.New().R().SetContext(ctx).SetOutput(tmp).Get(url)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if resp.IsError() {
		_ = os.Remove(tmp)
		return fmt.Errorf("GET %s: %s", url, resp.Status())
	}
	return os.Rename(tmp, path)
}
