// Package whisperws streams audio to a gowhisper server over its
// /ws/transcribe protocol.
package whisperws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"
)

const (
	Name       = "whisperws"
	DefaultURL = "ws://localhost:8080/ws/transcribe"
	wireRate   = 16000
)

func init() {
	stream.Backends.Register(Name, func(s registry.Settings) (stream.Backend, error) {
		return New(s)
	})
}

type Backend struct {
	url       string
	inputRate int
	dialer    *websocket.Dialer
}

// New reads settings: url, sample_rate.
func New(s registry.Settings) (*Backend, error) {
	rate, err := strconv.Atoi(s.Get("sample_rate", "16000"))
	if err != nil || rate <= 0 {
		return nil, transcription.ConfigurationError("invalid sample_rate %q", s.Get("sample_rate", ""))
	}
	return &Backend{
		url:       s.Get("url", DefaultURL),
		inputRate: rate,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (b *Backend) Name() string { return Name }

// ChunkSamples matches the server's 0.5 s work window.
func (b *Backend) ChunkSamples() int { return b.inputRate / 2 }

func (b *Backend) Packetize(samples []float32, _ bool) []byte {
	return audio.AppendPCM16(nil, audio.ResampleLinear(samples, b.inputRate, wireRate))
}

type clientMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	Data       string `json:"data,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Sequence   int    `json:"sequence,omitempty"`
}

type serverMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	FullText string `json:"fullText"`
	IsFinal  bool   `json:"isFinal"`
	Detail   string `json:"detail"`
}

func (b *Backend) Connect(ctx context.Context, language string) (stream.Transport, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, transcription.TransportError(Name, err)
	}
	lang := transcription.NormalizeLanguage(language)
	if lang == "" {
		lang = "auto"
	}
	if err := conn.WriteJSON(clientMessage{Type: "start", Language: lang}); err != nil {
		_ = conn.Close()
		return nil, transcription.TransportError(Name, err)
	}
	log.Info().Str("url", b.url).Str("language", lang).Msg("whisperws: connected")
	return &transport{conn: conn}, nil
}

type transport struct {
	conn *websocket.Conn
}

// Run sends chunks until frames closes, then asks the server to stop. The
// server's text is cumulative from the start of its buffer, so only what
// follows the last final is emitted. The hypothesis that was never finalized
// is promoted to a final once the server reports it has stopped.
func (t *transport) Run(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error {
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		_ = t.conn.Close()
	}()

	g.Go(func() error {
		seq := 0
		for {
			select {
			case <-gctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					return t.conn.WriteJSON(clientMessage{Type: "stop"})
				}
				seq++
				err := t.conn.WriteJSON(clientMessage{
					Type:       "chunk",
					Data:       base64.StdEncoding.EncodeToString(frame),
					MimeType:   "audio/pcm16",
					SampleRate: wireRate,
					Sequence:   seq,
				})
				if err != nil {
					return fmt.Errorf("whisperws: send chunk %d: %w", seq, err)
				}
			}
		}
	})

	g.Go(func() error {
		var pending string
		for {
			_, data, err := t.conn.ReadMessage()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return transcription.TransportError(Name, err)
			}
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug().Err(err).Msg("whisperws: undecodable server message")
				continue
			}
			switch msg.Type {
			case "started":
				emit(stream.Event{Type: stream.EventSessionReady})
			case "transcript":
				if msg.IsFinal {
					text := after(msg.Text, finalized)
					finalized = strings.TrimSpace(msg.Text)
					pending = ""
					if text != "" {
						emit(stream.Event{Type: stream.EventFinal, Text: text})
					}
					continue
				}
				pending = after(msg.FullText, finalized)
				emit(stream.Event{Type: stream.EventPartial, Text: pending})
			case "error":
				emit(stream.Event{Type: stream.EventError, Err: transcription.APIError(Name, 0, "", msg.Detail, string(data))})
			case "stopped":
				if pending != "" {
					emit(stream.Event{Type: stream.EventFinal, Text: pending})
				}
				return nil
			}
		}
	})

	err := g.Wait()
	_ = t.conn.Close()
	return err
}

// after returns the part of full that follows the already finalized prefix.
// A hypothesis that no longer starts with it is returned whole.
func after(full, finalized string) string {
	full = strings.TrimSpace(full)
	if finalized != "" && strings.HasPrefix(full, finalized) {
		return strings.TrimSpace(full[len(finalized):])
	}
	return full
}
