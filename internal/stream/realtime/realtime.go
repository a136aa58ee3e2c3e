// Package realtime streams audio to the OpenAI Realtime API over a WebSocket
// and relays its server-side VAD transcription events.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
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
	Name         = "realtime"
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"
	// WireRate is the PCM16 rate the Realtime API expects.
	WireRate = 24000
)

func init() {
	stream.Backends.Register(Name, func(s registry.Settings) (stream.Backend, error) {
		return New(s)
	})
}

type Backend struct {
	url         string
	apiKey      string
	model       string
	transcriber string
	inputRate   int
	dialer      *websocket.Dialer
}

// New reads settings: api_key, url, model, transcription_model, sample_rate.
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
		url:         s.Get("url", DefaultURL),
		apiKey:      key,
		model:       s.Get("model", DefaultModel),
		transcriber: s.Get("transcription_model", "whisper-1"),
		inputRate:   rate,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (b *Backend) Name() string { return Name }

// ChunkSamples is 100 ms of input audio.
func (b *Backend) ChunkSamples() int { return b.inputRate / 10 }

// Packetize resamples to 24 kHz and returns raw PCM16; base64 and JSON
// wrapping happen in the transport.
func (b *Backend) Packetize(samples []float32, _ bool) []byte {
	return audio.AppendPCM16(nil, audio.ResampleLinear(samples, b.inputRate, WireRate))
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		InputAudioFormat        string         `json:"input_audio_format"`
		InputAudioTranscription map[string]any `json:"input_audio_transcription"`
		TurnDetection           turnDetection  `json:"turn_detection"`
	} `json:"session"`
}

// sessionConfig is the first client message of every connection.
func (b *Backend) sessionConfig(language string) sessionUpdate {
	var msg sessionUpdate
	msg.Type = "session.update"
	msg.Session.InputAudioFormat = "pcm16"
	msg.Session.InputAudioTranscription = map[string]any{"model": b.transcriber}
	if lang := transcription.NormalizeLanguage(language); lang != "" {
		msg.Session.InputAudioTranscription["language"] = lang
	}
	msg.Session.TurnDetection = turnDetection{Type: "server_vad", Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 200}
	return msg
}

func (b *Backend) Connect(ctx context.Context, language string) (stream.Transport, error) {
	u, err := url.Parse(b.url)
	if err != nil {
		return nil, transcription.ConfigurationError("realtime url: %v", err)
	}
	q := u.Query()
	q.Set("model", b.model)
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+b.apiKey)
	hdr.Set("OpenAI-Beta", "realtime=v1")
	conn, resp, err := b.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, transcription.AuthenticationFailed(Name)
		}
		return nil, transcription.TransportError(Name, err)
	}
	if err := conn.WriteJSON(b.sessionConfig(language)); err != nil {
		_ = conn.Close()
		return nil, transcription.TransportError(Name, err)
	}
	log.Info().Str("model", b.model).Msg("realtime: connected")
	return &transport{conn: conn}, nil
}

type transport struct {
	conn *websocket.Conn
}

func (t *transport) Run(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error {
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		_ = t.conn.Close()
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					return nil
				}
				msg := map[string]string{
					"type":  "input_audio_buffer.append",
					"audio": base64.StdEncoding.EncodeToString(frame),
				}
				if err := t.conn.WriteJSON(msg); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("realtime: send audio: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := t.conn.ReadMessage()
			if err != nil {
				if gctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return transcription.TransportError(Name, err)
			}
			if ev, ok := DecodeEvent(data); ok {
				emit(ev)
			}
		}
	})
	return g.Wait()
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	Item       struct {
		Transcript string `json:"transcript"`
	} `json:"item"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent maps a server message to a stream event. Unknown and malformed
// messages report false.
func DecodeEvent(data []byte) (stream.Event, bool) {
	var se serverEvent
	if err := json.Unmarshal(data, &se); err != nil {
		log.Debug().Err(err).Msg("realtime: undecodable server message")
		return stream.Event{}, false
	}
	switch se.Type {
	case "session.created", "session.updated", "transcription_session.created", "transcription_session.updated":
		return stream.Event{Type: stream.EventSessionReady}, true
	case "conversation.item.input_audio_transcription.completed":
		text := se.Transcript
		if text == "" {
			text = se.Item.Transcript
		}
		return stream.Event{Type: stream.EventFinal, Text: text}, true
	case "conversation.item.input_audio_transcription.delta":
		return stream.Event{Type: stream.EventPartial, Text: se.Delta}, true
	case "input_audio_buffer.speech_started":
		return stream.Event{Type: stream.EventVoiceStarted}, true
	case "input_audio_buffer.speech_stopped":
		return stream.Event{Type: stream.EventVoiceStopped}, true
	case "conversation.item.input_audio_transcription.failed", "error":
		msg := "unknown error"
		code := ""
		if se.Error != nil {
			msg, code = se.Error.Message, se.Error.Code
		}
		if code == "invalid_api_key" {
			return stream.Event{Type: stream.EventError, Err: transcription.AuthenticationFailed(Name)}, true
		}
		return stream.Event{Type: stream.EventError, Err: transcription.APIError(Name, 0, code, msg, string(data))}, true
	}
	return stream.Event{}, false
}
