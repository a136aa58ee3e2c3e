package feedback

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("feedback serializer closed")

// Player renders samples to an output device and returns once playback ends.
type Player interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}

type Options struct {
	Enabled    bool
	Volume     float64
	SampleRate int
	QueueSize  int
	// OnCue is called from the worker before each cue plays.
	OnCue func(Cue)
}

type request struct {
	cue  Cue
	done chan error // nil for fire-and-forget
}

// Serializer owns the one worker that plays cues in submission order.
type Serializer struct {
	player Player
	opts   Options

	mu     sync.RWMutex
	closed bool
	reqs   chan request
	wg     sync.WaitGroup
}

func NewSerializer(player Player, opts Options) *Serializer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	s := &Serializer{player: player, opts: opts, reqs: make(chan request, opts.QueueSize)}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *Serializer) worker() {
	defer s.wg.Done()
	for r := range s.reqs {
		err := s.play(r.cue)
		if err != nil {
			log.Warn().Err(err).Str("cue", r.cue.String()).Msg("feedback: playback failed")
		}
		if r.done != nil {
			r.done <- err
		}
	}
}

func (s *Serializer) play(c Cue) error {
	if s.opts.OnCue != nil {
		s.opts.OnCue(c)
	}
	samples := Render(PlanFor(c), s.opts.SampleRate, s.opts.Volume)
	return s.player.Play(context.Background(), samples, s.opts.SampleRate)
}

// Submit queues c without waiting. A full queue drops the cue rather than block.
func (s *Serializer) Submit(c Cue) {
	if !s.opts.Enabled {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.reqs <- request{cue: c}:
	default:
		log.Warn().Str("cue", c.String()).Msg("feedback: queue full, dropping cue")
	}
}

// Play queues c and waits until it, and everything queued before it, has played.
func (s *Serializer) Play(ctx context.Context, c Cue) error {
	if !s.opts.Enabled {
		return nil
	}
	done := make(chan error, 1)
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.reqs <- request{cue: c, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close lets queued cues finish and stops the worker.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.reqs)
	s.mu.Unlock()
	s.wg.Wait()
}
