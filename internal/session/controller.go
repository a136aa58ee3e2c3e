// Package session runs one recording from capture to output: the state
// machine, the batch pipeline and the streaming hand-off.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/command"
	"github.com/obiente/translate/govoice/internal/feedback"
	"github.com/obiente/translate/govoice/internal/metrics"
	"github.com/obiente/translate/govoice/internal/output"
	"github.com/obiente/translate/govoice/internal/signals"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"
)

const (
	outcomeSuccess       = "success"
	outcomeShutdown      = "shutdown"
	outcomeInterrupted   = "interrupted"
	outcomeDeviceError   = "device_error"
	outcomeStreamError   = "stream_error"
	outcomeDrainError    = "transcription_error"
	defaultTick          = 100 * time.Millisecond
	bufferReportInterval = 10 * time.Second
)

// Source is the capture device. Start hands it the only write handle to the
// ring buffer; Stop must not return until the device has stopped writing.
type Source interface {
	Start(p *audio.Producer) error
	Stop() error
}

// faultingSource is a Source that can fail after Start. A value on Err ends
// the session as a device error.
type faultingSource interface {
	Err() <-chan error
}

// ErrCaptureFailed wraps errors reported by the source while capturing.
var ErrCaptureFailed = errors.New("capture failed")

// Cues plays feedback sounds. feedback.Serializer implements it.
type Cues interface {
	Submit(c feedback.Cue)
	Play(ctx context.Context, c feedback.Cue) error
}

type Options struct {
	SampleRate    int
	BufferSeconds int
	Language      string
	Prompt        string

	// Provider transcribes in batch mode. It is ignored when Stream is set.
	Provider transcription.Provider
	// Stream switches the controller to streaming mode.
	Stream        stream.Backend
	StreamGrace   time.Duration
	StopOnSilence bool

	Sink     output.Sink
	Executor *command.Executor
	Hooks    command.Hooks
	Notifier *feedback.Notifier
	Metrics  *metrics.Metrics

	// Tick is the housekeeping interval of the control loop.
	Tick time.Duration
}

// Controller owns the ring buffer and the capture source for one session.
type Controller struct {
	opts   Options
	source Source
	cues   Cues
	buffer *audio.RingBuffer
	pre    *audio.Preprocessor
	enc    *audio.Encoder

	mu    sync.RWMutex
	state State
	id    string
	log   zerolog.Logger

	lastReport time.Time
}

func New(source Source, cues Cues, opts Options) *Controller {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Sink == nil {
		opts.Sink = output.Writer{W: os.Stdout}
	}
	c := &Controller{
		opts:   opts,
		source: source,
		cues:   cues,
		pre:    audio.NewPreprocessor(opts.SampleRate),
		enc:    audio.NewEncoder(opts.SampleRate, 1),
		log:    log.Logger,
	}
	c.buffer = audio.NewRingBuffer(opts.SampleRate, opts.BufferSeconds,
		audio.WithEvictionObserver(func(n int) { opts.Metrics.BufferEvicted.Add(float64(n)) }),
		audio.WithFirstWriteObserver(func() { c.logger().Debug().Msg("first audio received") }),
	)
	return c
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{State: c.state, Session: c.id, BufferedSeconds: c.buffer.DurationSeconds()}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	l := c.log
	c.mu.Unlock()
	c.opts.Metrics.State.Set(float64(s))
	l.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("state change")
}

func (c *Controller) logger() *zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.log
	return &l
}

// Run drives one session to Terminated and returns the process exit code.
// Closing triggers or cancelling ctx counts as a shutdown trigger.
func (c *Controller) Run(ctx context.Context, triggers <-chan signals.Trigger) int {
	c.mu.Lock()
	c.id = xid.New().String()
	c.log = log.With().Str("session", c.id).Logger()
	c.mu.Unlock()

	code := c.run(ctx, triggers)
	c.setState(Terminated)
	c.runHook(ctx, "on_transcription_stop", c.opts.Hooks.OnStop, "")
	c.logger().Info().Int("exit_code", code).Msg("session finished")
	return code
}

func (c *Controller) run(ctx context.Context, triggers <-chan signals.Trigger) int {
	if c.idle(triggers) {
		c.opts.Metrics.RecordSession(outcomeShutdown)
		return 0
	}

	producer, err := c.buffer.Producer()
	if err != nil {
		return c.fail(ctx, outcomeDeviceError, err)
	}
	var st *streaming
	if c.opts.Stream != nil {
		sess, err := stream.Open(ctx, c.opts.Stream, stream.Options{Language: c.opts.Language, Grace: c.opts.StreamGrace})
		if err != nil {
			producer.Release()
			return c.fail(ctx, outcomeStreamError, fmt.Errorf("open stream %s: %w", c.opts.Stream.Name(), err))
		}
		st = &streaming{sess: sess, pos: c.buffer.Written(), metrics: c.opts.Metrics, log: *c.logger()}
	}

	if err := c.source.Start(producer); err != nil {
		producer.Release()
		if st != nil {
			st.sess.Cancel()
		}
		return c.fail(ctx, outcomeDeviceError, fmt.Errorf("start capture: %w", err))
	}
	c.setState(Capturing)
	c.cues.Submit(feedback.CueRecordingStart)
	c.runHook(ctx, "on_transcription_start", c.opts.Hooks.OnStart, "")
	c.logger().Info().
		Int("sample_rate", c.opts.SampleRate).
		Int("buffer_seconds", c.opts.BufferSeconds).
		Bool("streaming", st != nil).
		Msg("capturing")

	trigger, err := c.capture(ctx, triggers, st)
	c.stopCapture(producer)

	if err != nil {
		if st != nil {
			st.sess.Cancel()
		}
		outcome := outcomeStreamError
		if errors.Is(err, ErrCaptureFailed) {
			outcome = outcomeDeviceError
		}
		return c.fail(ctx, outcome, err)
	}
	if trigger == signals.Shutdown {
		if err := c.cues.Play(context.WithoutCancel(ctx), feedback.CueRecordingStop); err != nil {
			c.logger().Debug().Err(err).Msg("stop cue")
		}
		if st != nil {
			st.sess.Cancel()
		}
		c.buffer.Clear()
		c.logger().Info().Msg("shutdown while capturing")
		c.opts.Metrics.RecordSession(outcomeShutdown)
		return 0
	}

	c.cues.Submit(feedback.CueRecordingStop)
	c.setState(Draining)
	text, interrupted, err := c.drain(ctx, triggers, st)
	switch {
	case interrupted:
		return c.fail(ctx, outcomeInterrupted, fmt.Errorf("shutdown during transcription: %w", context.Canceled))
	case err != nil:
		return c.fail(ctx, outcomeDrainError, err)
	}
	return c.deliver(ctx, text)
}

// idle consumes triggers that arrived before capture began and reports
// whether one of them was a shutdown.
func (c *Controller) idle(triggers <-chan signals.Trigger) bool {
	for {
		select {
		case t, ok := <-triggers:
			if !ok {
				return true
			}
			if next, ok := Next(Idle, t); ok {
				return next == Terminated
			}
			c.ignore(Idle, t)
		default:
			return false
		}
	}
}

func (c *Controller) ignore(s State, t signals.Trigger) {
	c.logger().Warn().Str("state", s.String()).Str("trigger", t.String()).Msg("ignoring trigger")
}

func (c *Controller) stopCapture(p *audio.Producer) {
	if err := c.source.Stop(); err != nil {
		c.logger().Warn().Err(err).Msg("stop capture")
	}
	p.Release()
}

// capture waits in Capturing for the trigger that ends it. Streaming audio
// is pushed and backend events are consumed between triggers.
func (c *Controller) capture(ctx context.Context, triggers <-chan signals.Trigger, st *streaming) (signals.Trigger, error) {
	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	var events <-chan stream.Event
	if st != nil {
		events = st.sess.Events()
	}
	var faults <-chan error
	if fs, ok := c.source.(faultingSource); ok {
		faults = fs.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return signals.Shutdown, nil
		case err := <-faults:
			return signals.Unknown, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		case t, ok := <-triggers:
			if !ok {
				return signals.Shutdown, nil
			}
			if _, ok := Next(Capturing, t); ok {
				return t, nil
			}
			c.ignore(Capturing, t)
		case <-ticker.C:
			c.housekeeping()
			if st != nil {
				if err := st.push(c.buffer); err != nil {
					return signals.Unknown, err
				}
			}
		case ev, ok := <-events:
			if !ok {
				return signals.Unknown, ErrBackendClosed
			}
			if err := st.handle(ev); err != nil {
				return signals.Unknown, err
			}
			if c.opts.StopOnSilence && st.silenceAfterVoice(ev) {
				c.logger().Info().Msg("voice stopped, finishing")
				return signals.Transcribe, nil
			}
		}
	}
}

func (c *Controller) housekeeping() {
	now := time.Now()
	if now.Sub(c.lastReport) < bufferReportInterval {
		return
	}
	c.lastReport = now
	c.logger().Debug().Float64("buffered_seconds", c.buffer.DurationSeconds()).Msg("capture buffer")
}

type drainResult struct {
	text string
	err  error
}

// drain runs the transcription worker and keeps polling triggers until it
// finishes. A shutdown cancels the worker and waits for it to return.
func (c *Controller) drain(ctx context.Context, triggers <-chan signals.Trigger, st *streaming) (string, bool, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan drainResult, 1)
	go func() {
		var r drainResult
		if st != nil {
			r.text, r.err = c.finishStream(wctx, st)
		} else {
			r.text, r.err = c.transcribe(wctx, c.buffer.Read())
		}
		results <- r
	}()

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	done := ctx.Done()
	interrupted := false
	for {
		select {
		case r := <-results:
			if interrupted {
				return "", true, nil
			}
			return r.text, false, r.err
		case <-done:
			done = nil
			interrupted = true
			cancel()
		case t, ok := <-triggers:
			if !ok {
				triggers = nil
				interrupted = true
				cancel()
				continue
			}
			if _, ok := Next(Draining, t); ok {
				c.logger().Warn().Msg("shutdown during transcription, cancelling")
				interrupted = true
				cancel()
				continue
			}
			c.ignore(Draining, t)
		case <-ticker.C:
			c.housekeeping()
		}
	}
}

// transcribe runs preprocess, encode and the provider call in that order.
func (c *Controller) transcribe(ctx context.Context, samples []float32) (string, error) {
	start := time.Now()
	processed, err := c.pre.Process(samples)
	if err != nil {
		return "", fmt.Errorf("preprocess: %w", err)
	}
	wav, err := c.enc.Encode(processed)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	c.logger().Info().
		Float64("captured_seconds", c.pre.Duration(samples)).
		Float64("speech_seconds", c.pre.Duration(processed)).
		Int("bytes", len(wav)).
		Str("provider", c.opts.Provider.Name()).
		Msg("transcribing")
	text, err := c.opts.Provider.Transcribe(ctx, transcription.Request{Audio: wav, Language: c.opts.Language, Prompt: c.opts.Prompt})
	if err != nil {
		return "", err
	}
	c.logger().Debug().Dur("took", time.Since(start)).Msg("transcription complete")
	return strings.TrimSpace(text), nil
}

// finishStream sends the audio captured since the last push and collects the
// backend's trailing events.
func (c *Controller) finishStream(ctx context.Context, st *streaming) (string, error) {
	if err := st.push(c.buffer); err != nil {
		return "", err
	}
	events, err := st.sess.Finish(ctx)
	for _, ev := range events {
		if herr := st.handle(ev); herr != nil && err == nil {
			err = herr
		}
	}
	if err != nil {
		return "", err
	}
	return st.transcript(), nil
}

func (c *Controller) deliver(ctx context.Context, text string) int {
	c.setState(AwaitingOutput)
	if err := c.cues.Play(context.WithoutCancel(ctx), feedback.CueSuccess); err != nil {
		c.logger().Debug().Err(err).Msg("success cue")
	}
	code, err := c.opts.Sink.Emit(ctx, text)
	if err != nil {
		c.logger().Error().Err(err).Msg("output failed")
	}
	c.runHook(ctx, "on_transcription_receive", c.opts.Hooks.OnReceive, text)
	c.buffer.Clear()
	c.opts.Notifier.Notify(text)
	c.opts.Metrics.RecordSession(outcomeSuccess)
	c.logger().Info().Int("chars", len(text)).Int("exit_code", code).Msg("transcript delivered")
	return code
}

// fail plays the error cue before clearing the buffer and returns exit code 1.
func (c *Controller) fail(ctx context.Context, outcome string, err error) int {
	l := c.logger()
	l.Error().Err(err).Str("outcome", outcome).Msg("session failed")
	if te, ok := transcription.AsError(err); ok {
		if hint := te.Hint(); hint != "" {
			l.Warn().Str("hint", hint).Msg(te.Kind.String())
		}
	}
	if perr := c.cues.Play(context.WithoutCancel(ctx), feedback.CueError); perr != nil {
		l.Debug().Err(perr).Msg("error cue")
	}
	c.buffer.Clear()
	c.opts.Notifier.Notify("Transcription failed: " + err.Error())
	c.opts.Metrics.RecordSession(outcome)
	return 1
}

// runHook fires h through the executor. The start hook is queued so it
// cannot stall capture; the others are awaited so they finish before exit.
func (c *Controller) runHook(ctx context.Context, name string, h *command.Hook, text string) {
	if h == nil || c.opts.Executor == nil {
		return
	}
	job := h.Job(name, text)
	if name == "on_transcription_start" {
		c.opts.Executor.Submit(job)
		c.opts.Metrics.RecordHook(name, nil)
		return
	}
	code, err := c.opts.Executor.Run(context.WithoutCancel(ctx), job)
	if err == nil && code != 0 {
		err = fmt.Errorf("exit code %d", code)
	}
	if err != nil {
		c.logger().Warn().Err(err).Str("hook", name).Msg("hook failed")
	}
	c.opts.Metrics.RecordHook(name, err)
}
