// Package upload streams the recording into a single multipart POST while it
// is being captured, so the request body is already on the wire when the
// user stops talking.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"
	"github.com/obiente/translate/govoice/internal/transcription/openai"
)

const Name = "upload"

func init() {
	stream.Backends.Register(Name, func(s registry.Settings) (stream.Backend, error) {
		return New(s)
	})
}

type Backend struct {
	client     *resty.Client
	model      string
	prompt     string
	sampleRate int
	encoder    *audio.Encoder
	timeout    time.Duration
}

// New reads settings: api_key, base_url, model, prompt, sample_rate,
// timeout_seconds. The request body is open for the whole recording, so the
// client has no timeout; timeout_seconds bounds the wait for the answer once
// the recording ends.
func New(s registry.Settings) (*Backend, error) {
	key := s.Get("api_key", "")
	if key == "" {
		return nil, transcription.ConfigurationError("OPENAI_API_KEY is required for the %s backend", Name)
	}
	rate, err := strconv.Atoi(s.Get("sample_rate", "16000"))
	if err != nil || rate <= 0 {
		return nil, transcription.ConfigurationError("invalid sample_rate %q", s.Get("sample_rate", ""))
	}
	return &Backend{
		client:     openai.NewClient(s.Get("base_url", openai.DefaultBaseURL), key, 0),
		model:      s.Get("model", openai.DefaultModel),
		prompt:     s.Get("prompt", ""),
		sampleRate: rate,
		encoder:    audio.NewEncoder(rate, 1),
		timeout:    openai.TimeoutFrom(s),
	}, nil
}

func (b *Backend) Name() string { return Name }

// ResultTimeout is how long Finish waits for the response after the last frame.
func (b *Backend) ResultTimeout() time.Duration { return b.timeout }

// ChunkSamples is 0.5 s of audio.
func (b *Backend) ChunkSamples() int { return b.sampleRate / 2 }

// Packetize prefixes the first frame with an open-ended WAV header; later
// frames are bare PCM16 continuing the same data chunk.
func (b *Backend) Packetize(samples []float32, first bool) []byte {
	var out []byte
	if first {
		out = b.encoder.StreamingHeader()
	}
	return audio.AppendPCM16(out, samples)
}

func (b *Backend) Connect(_ context.Context, language string) (stream.Transport, error) {
	return &transport{backend: b, language: transcription.NormalizeLanguage(language)}, nil
}

type transport struct {
	backend  *Backend
	language string
}

func (t *transport) Run(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := t.writeBody(gctx, mw, frames)
		if errors.Is(err, io.ErrClosedPipe) {
			// the request side stopped reading and reports its own error
			return nil
		}
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		return pw.Close()
	})

	g.Go(func() error {
		defer pr.Close()
		emit(stream.Event{Type: stream.EventSessionReady})
		resp, err := t.backend.client.R().
			SetContext(gctx).
			SetHeader("Content-Type", mw.FormDataContentType()).
			SetBody(pr).
			Post("/audio/transcriptions")
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return transcription.TransportError(Name, err)
		}
		text, err := openai.ParseResponse(Name, resp.StatusCode(), resp.Body())
		if err != nil {
			return err
		}
		log.Debug().Int("status", resp.StatusCode()).Msg("upload: response received")
		emit(stream.Event{Type: stream.EventFinal, Text: text})
		return nil
	})
	return g.Wait()
}

func (t *transport) writeBody(ctx context.Context, mw *multipart.Writer, frames <-chan []byte) error {
	fields := [][2]string{{"model", t.backend.model}, {"response_format", "json"}}
	if t.language != "" {
		fields = append(fields, [2]string{"language", t.language})
	}
	if t.backend.prompt != "" {
		fields = append(fields, [2]string{"prompt", t.backend.prompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return mw.Close()
			}
			if _, err := part.Write(frame); err != nil {
				return fmt.Errorf("upload: write frame: %w", err)
			}
		}
	}
}
