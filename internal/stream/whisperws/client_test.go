package whisperws

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"
)

type reply map[string]any

func partial(text, full string) reply {
	return reply{"type": "transcript", "text": text, "fullText": full, "isFinal": false}
}

func final(text string) reply {
	return reply{"type": "transcript", "text": text, "fullText": text, "isFinal": true}
}

// fakeServer speaks the gowhisper /ws/transcribe protocol: script[i] is sent
// after chunk i+1 (the last entry repeats) and "stopped" answers stop.
func fakeServer(t *testing.T, seen chan<- map[string]any, script ...reply) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		chunks := 0
		for {
			var msg map[string]any
			if conn.ReadJSON(&msg) != nil {
				return
			}
			seen <- msg
			switch msg["type"] {
			case "start":
				_ = conn.WriteJSON(reply{"type": "started"})
			case "chunk":
				raw, err := base64.StdEncoding.DecodeString(msg["data"].(string))
				if err != nil || len(raw) != 16000 {
					_ = conn.WriteJSON(reply{"type": "error", "detail": "decode audio failed"})
					continue
				}
				chunks++
				if len(script) > 0 {
					_ = conn.WriteJSON(script[min(chunks, len(script))-1])
				}
			case "stop":
				_ = conn.WriteJSON(reply{"type": "stopped"})
			}
		}
	}))
}

func collect(t *testing.T, srv *httptest.Server, chunks int) (finals, partials []string) {
	t.Helper()
	b, err := New(registry.Settings{"url": "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	s, err := stream.Open(t.Context(), b, stream.Options{Language: "auto", Grace: 2 * time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Push(make([]float32, chunks*8000)))
	start := time.Now()
	events, err := s.Finish(t.Context())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "stopped should end the session before grace")

	for _, ev := range events {
		switch ev.Type {
		case stream.EventFinal:
			finals = append(finals, ev.Text)
		case stream.EventPartial:
			partials = append(partials, ev.Text)
		}
	}
	return finals, partials
}

func TestStreamPromotesPendingPartial(t *testing.T) {
	seen := make(chan map[string]any, 16)
	srv := fakeServer(t, seen,
		partial("hello", "hello wor"),
		final("hello world."),
		partial("and", "hello world. and more "),
	)
	defer srv.Close()

	finals, partials := collect(t, srv, 3)
	assert.Equal(t, []string{"hello world.", "and more"}, finals)
	assert.Equal(t, []string{"hello wor", "and more"}, partials)

	start0 := <-seen
	assert.Equal(t, "start", start0["type"])
	assert.Equal(t, "auto", start0["language"])
	first := <-seen
	assert.Equal(t, "chunk", first["type"])
	assert.Equal(t, "audio/pcm16", first["mime_type"])
	assert.EqualValues(t, 16000, first["sample_rate"])
	assert.EqualValues(t, 1, first["sequence"])
}

func TestStreamEmitsOnlyNewText(t *testing.T) {
	seen := make(chan map[string]any, 16)
	srv := fakeServer(t, seen,
		final("Hello there."),
		partial("How", "Hello there. How are you"),
	)
	defer srv.Close()

	finals, _ := collect(t, srv, 2)
	assert.Equal(t, []string{"Hello there.", "How are you"}, finals)
	assert.Equal(t, "Hello there. How are you", strings.Join(finals, " "))
}

func TestStreamConsecutiveFinals(t *testing.T) {
	seen := make(chan map[string]any, 16)
	srv := fakeServer(t, seen,
		final("One."),
		final("One. Two."),
		final("One. Two."),
	)
	defer srv.Close()

	finals, _ := collect(t, srv, 3)
	assert.Equal(t, []string{"One.", "Two."}, finals)
}

func TestAfter(t *testing.T) {
	assert.Equal(t, "b c", after(" a b c ", "a"))
	assert.Equal(t, "a b", after("a b", ""))
	assert.Equal(t, "x y", after("x y", "a"))
	assert.Equal(t, "", after("a.", "a."))
}

func TestStreamResamplesInput(t *testing.T) {
	seen := make(chan map[string]any, 16)
	srv := fakeServer(t, seen, partial("hello", "hello wor"))
	defer srv.Close()

	b, err := New(registry.Settings{"url": "ws" + strings.TrimPrefix(srv.URL, "http"), "sample_rate": "8000"})
	require.NoError(t, err)
	assert.Equal(t, 4000, b.ChunkSamples())
	s, err := stream.Open(t.Context(), b, stream.Options{Grace: time.Second})
	require.NoError(t, err)

	// 8 kHz input is resampled to 16 kHz on the wire, so the fake server
	// still receives 0.5 s frames.
	require.NoError(t, s.Push(make([]float32, 4000)))
	events, err := s.Finish(t.Context())
	require.NoError(t, err)

	for _, ev := range events {
		assert.NotEqual(t, stream.EventError, ev.Type, "unexpected error %v", ev.Err)
	}
}

func TestConnectRefused(t *testing.T) {
	b, err := New(registry.Settings{"url": "ws://127.0.0.1:1/ws/transcribe"})
	require.NoError(t, err)
	_, err = b.Connect(t.Context(), "")
	te, ok := transcription.AsError(err)
	require.True(t, ok)
	assert.Equal(t, transcription.KindNetwork, te.Kind)
}
