package session

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/metrics"
	"github.com/obiente/translate/govoice/internal/stream"
)

// ErrBackendClosed is reported when the streaming backend ends the session
// while audio is still being captured.
var ErrBackendClosed = errors.New("streaming backend closed the session")

// streaming tracks one stream.Session from the controller's side: how far
// into the ring buffer audio has been sent and which finals have arrived.
type streaming struct {
	sess    *stream.Session
	pos     uint64
	finals  []string
	voice   bool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// push sends every sample written since the last push.
func (s *streaming) push(b *audio.RingBuffer) error {
	samples, next, lost := b.ReadSince(s.pos)
	s.pos = next
	if lost > 0 {
		s.log.Warn().Uint64("lost_samples", lost).Msg("stream fell behind capture, audio dropped")
	}
	if len(samples) == 0 {
		return nil
	}
	return s.sess.Push(samples)
}

// handle records ev; an error event fails the session.
func (s *streaming) handle(ev stream.Event) error {
	s.metrics.StreamEvents.WithLabelValues(ev.Type.String()).Inc()
	switch ev.Type {
	case stream.EventFinal:
		if text := strings.TrimSpace(ev.Text); text != "" {
			s.finals = append(s.finals, text)
		}
		s.log.Debug().Str("text", ev.Text).Msg("final transcript")
	case stream.EventPartial:
		s.log.Debug().Str("text", ev.Text).Msg("partial transcript")
	case stream.EventVoiceStarted:
		s.voice = true
	case stream.EventSessionReady:
		s.log.Debug().Msg("streaming session ready")
	case stream.EventError:
		if ev.Err != nil {
			return ev.Err
		}
		return errors.New("streaming backend reported an error")
	}
	return nil
}

// silenceAfterVoice reports a voiceStopped that follows speech.
func (s *streaming) silenceAfterVoice(ev stream.Event) bool {
	return ev.Type == stream.EventVoiceStopped && s.voice
}

func (s *streaming) transcript() string {
	return strings.Join(s.finals, " ")
}
