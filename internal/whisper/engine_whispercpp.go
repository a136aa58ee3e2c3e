//go:build whisper_cpp

package whisper

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"
)

type engineCPP struct {
	model   whisperpkg.Model
	threads uint
	mu      sync.Mutex // whisper.cpp contexts must not run concurrently on one model
}

func NewEngine(modelPath string, threads int) (Engine, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	log.Info().Str("model", modelPath).Int("threads", threads).Msg("whisper: model loaded")
	return &engineCPP{model: m, threads: uint(threads)}, nil
}

func (e *engineCPP) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

func (e *engineCPP) Transcribe(samples []float32, language string) (string, string, error) {
	if len(samples) == 0 {
		return "", "", nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.model.NewContext()
	if err != nil {
		return "", "", fmt.Errorf("create context: %w", err)
	}
	if language == "" {
		language = "auto"
	}
	ctx.SetThreads(e.threads)
	if err := ctx.SetLanguage(language); err != nil {
		return "", "", fmt.Errorf("set language %q: %w", language, err)
	}
	ctx.SetSplitOnWord(true)
	ctx.SetTokenTimestamps(true)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", "", fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("whisper: error reading segment")
			break
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	lang := ctx.Language()
	if lang == "" || lang == "auto" {
		lang = ctx.DetectedLanguage()
	}
	full := strings.Join(segments, " ")
	log.Debug().
		Int("segments", len(segments)).
		Int("samples", len(samples)).
		Str("lang", lang).
		Msg("whisper: transcription complete")
	return full, lang, nil
}
