package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Push once the session has been finished or cancelled.
var ErrClosed = errors.New("stream session closed")

// ErrNoTranscript is returned by Finish when the wait for the backend ran out
// before it produced any final result.
var ErrNoTranscript = errors.New("stream: no final transcript before deadline")

const (
	DefaultGrace         = time.Second
	DefaultOutboundDepth = 32
)

// abortWait bounds how long a cancelled transport may take to exit.
var abortWait = 2 * time.Second

// ResultWaiter is implemented by backends that only answer once the whole
// recording has been sent. Finish waits up to ResultTimeout for them when
// that is longer than the configured grace period.
type ResultWaiter interface {
	ResultTimeout() time.Duration
}

type Options struct {
	Language      string
	Grace         time.Duration
	OutboundDepth int
}

// Session is the handle for one streaming transcription: the bounded outbound
// frame channel, the inbound event channel, and the background task that owns
// the backend connection. The caller that opened it must Finish or Cancel it.
type Session struct {
	backend Backend
	grace   time.Duration

	frames chan []byte
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	finals atomic.Int32

	mu      sync.Mutex
	closed  bool
	first   bool
	pending []float32
}

// Open connects to backend and starts the background task.
func Open(ctx context.Context, backend Backend, opts Options) (*Session, error) {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.OutboundDepth <= 0 {
		opts.OutboundDepth = DefaultOutboundDepth
	}
	if w, ok := backend.(ResultWaiter); ok {
		opts.Grace = max(opts.Grace, w.ResultTimeout())
	}
	tctx, cancel := context.WithCancel(ctx)
	tr, err := backend.Connect(tctx, opts.Language)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Session{
		backend: backend,
		grace:   opts.Grace,
		frames:  make(chan []byte, opts.OutboundDepth),
		events:  make(chan Event, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
		first:   true,
	}
	go s.run(tctx, tr)
	return s, nil
}

func (s *Session) run(ctx context.Context, tr Transport) {
	defer close(s.done)
	defer close(s.events)
	emit := func(ev Event) {
		if ev.Type == EventFinal {
			s.finals.Add(1)
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
		}
	}
	err := tr.Run(ctx, s.frames, emit)
	if err != nil && ctx.Err() == nil {
		s.err = err
		emit(Event{Type: EventError, Err: err})
	}
	log.Debug().Err(err).Str("backend", s.backend.Name()).Msg("stream: transport finished")
}

// Events delivers backend events; it is closed when the background task ends.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the background task has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Push queues new samples. Whole chunks are framed and handed to the
// transport as long as the outbound channel has room; anything else waits in
// pending for the next Push so the caller never blocks.
func (s *Session) Push(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, samples...)
	chunk := s.backend.ChunkSamples()
	for len(s.pending) >= chunk && len(s.frames) < cap(s.frames) {
		s.frames <- s.backend.Packetize(s.pending[:chunk], s.first)
		s.first = false
		s.pending = s.pending[chunk:]
	}
	return nil
}

// Pending reports how many samples are waiting to be framed.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// seal marks the session closed and returns the samples still pending, or
// false if it was already sealed.
func (s *Session) seal() ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	rest := s.pending
	s.pending = nil
	return rest, true
}

// Finish flushes pending audio, signals end of audio, and collects the
// backend's trailing events for up to the grace period before cancelling the
// background task. Running out of time before the backend produced any final
// result is reported as ErrNoTranscript.
func (s *Session) Finish(ctx context.Context) ([]Event, error) {
	rest, ok := s.seal()
	if !ok {
		return nil, ErrClosed
	}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	chunk := s.backend.ChunkSamples()
	first := s.first
	var (
		collected []Event
		expired   bool
	)
flush:
	for len(rest) > 0 {
		n := min(chunk, len(rest))
		frame := s.backend.Packetize(rest[:n], first)
		for sent := false; !sent; {
			select {
			case s.frames <- frame:
				sent = true
			case ev, ok := <-s.events:
				if !ok {
					break flush
				}
				collected = append(collected, ev)
			case <-s.done:
				break flush
			case <-timer.C:
				expired = true
				break flush
			case <-ctx.Done():
				break flush
			}
		}
		first = false
		rest = rest[n:]
	}
	close(s.frames)

	for !expired {
		select {
		case ev, ok := <-s.events:
			if !ok {
				<-s.done
				return collected, s.err
			}
			collected = append(collected, ev)
		case <-timer.C:
			expired = true
		case <-ctx.Done():
			return s.abort(collected), ctx.Err()
		}
	}
	log.Debug().Dur("grace", s.grace).Str("backend", s.backend.Name()).Msg("stream: grace elapsed, aborting transport")
	collected = s.abort(collected)
	if err := s.result(); err != nil {
		return collected, err
	}
	if s.finals.Load() == 0 {
		return collected, fmt.Errorf("%w (%s after %s)", ErrNoTranscript, s.backend.Name(), s.grace)
	}
	return collected, nil
}

// result is the transport's error once it has exited, nil before that.
func (s *Session) result() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// abort cancels the transport and drains what it emits while shutting down,
// giving up after a short bound so an unresponsive backend cannot hang us.
func (s *Session) abort(collected []Event) []Event {
	s.cancel()
	deadline := time.NewTimer(abortWait)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				<-s.done
				return collected
			}
			collected = append(collected, ev)
		case <-deadline.C:
			log.Warn().Str("backend", s.backend.Name()).Msg("stream: transport did not stop after cancel")
			return collected
		}
	}
}

// Cancel tears the session down immediately. It is safe to call more than
// once and after Finish.
func (s *Session) Cancel() {
	if _, ok := s.seal(); ok {
		close(s.frames)
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(abortWait):
		log.Warn().Str("backend", s.backend.Name()).Msg("stream: transport did not stop after cancel")
	}
}
