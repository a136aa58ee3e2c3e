package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/govoice/internal/audio"
	"github.com/obiente/translate/govoice/internal/command"
	"github.com/obiente/translate/govoice/internal/feedback"
	"github.com/obiente/translate/govoice/internal/metrics"
	"github.com/obiente/translate/govoice/internal/signals"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"
)

const testRate = 16000

func speech() []float32 {
	out := make([]float32, 0, testRate)
	out = append(out, make([]float32, testRate/5)...)
	for i := 0; i < testRate/2; i++ {
		out = append(out, float32(0.5*math.Sin(2*math.Pi*440*float64(i)/testRate)))
	}
	return append(out, make([]float32, testRate/5)...)
}

type fakeSource struct {
	samples  []float32
	startErr error
	faults   chan error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeSource) Start(p *audio.Producer) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	p.Write(s.samples)
	return nil
}

func (s *fakeSource) Err() <-chan error { return s.faults }

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

type fakeCues struct {
	mu   sync.Mutex
	cues []feedback.Cue
}

func (f *fakeCues) Submit(c feedback.Cue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cues = append(f.cues, c)
}

func (f *fakeCues) Play(_ context.Context, c feedback.Cue) error {
	f.Submit(c)
	return nil
}

func (f *fakeCues) got() []feedback.Cue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedback.Cue(nil), f.cues...)
}

type fakeProvider struct {
	text string
	err  error

	mu    sync.Mutex
	calls []transcription.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Transcribe(_ context.Context, req transcription.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.text, p.err
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// blockingProvider waits for cancellation.
type blockingProvider struct {
	started chan struct{}
	err     chan error
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Transcribe(ctx context.Context, _ transcription.Request) (string, error) {
	close(p.started)
	<-ctx.Done()
	p.err <- ctx.Err()
	return "", ctx.Err()
}

type recordingSink struct {
	code int

	mu   sync.Mutex
	text []string
}

func (s *recordingSink) Emit(_ context.Context, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = append(s.text, text)
	return s.code, nil
}

type harness struct {
	c        *Controller
	source   *fakeSource
	cues     *fakeCues
	sink     *recordingSink
	metrics  *metrics.Metrics
	triggers chan signals.Trigger
	exit     chan int
}

func newHarness(t *testing.T, samples []float32, opts Options) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{samples: samples},
		cues:     &fakeCues{},
		sink:     &recordingSink{},
		metrics:  metrics.New(),
		triggers: make(chan signals.Trigger, 4),
		exit:     make(chan int, 1),
	}
	opts.SampleRate = testRate
	opts.BufferSeconds = 5
	opts.Tick = 5 * time.Millisecond
	opts.Metrics = h.metrics
	if opts.Sink == nil {
		opts.Sink = h.sink
	}
	h.c = New(h.source, h.cues, opts)
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.exit <- h.c.Run(ctx, h.triggers) }()
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State() == s }, 2*time.Second, time.Millisecond, "state %s", s)
}

func (h *harness) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-h.exit:
		assert.Equal(t, Terminated, h.c.State())
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not terminate")
		return -1
	}
}

func (h *harness) outcome(name string) float64 {
	return testutil.ToFloat64(h.metrics.Sessions.WithLabelValues(name))
}

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		t    signals.Trigger
		want State
		ok   bool
	}{
		{Idle, signals.Transcribe, Idle, false},
		{Idle, signals.Shutdown, Terminated, true},
		{Capturing, signals.Transcribe, Draining, true},
		{Capturing, signals.Shutdown, Terminated, true},
		{Capturing, signals.Unknown, Capturing, false},
		{Draining, signals.Transcribe, Draining, false},
		{Draining, signals.Shutdown, Terminated, true},
		{AwaitingOutput, signals.Shutdown, AwaitingOutput, false},
		{Terminated, signals.Transcribe, Terminated, false},
	}
	for _, tt := range tests {
		got, ok := Next(tt.from, tt.t)
		assert.Equal(t, tt.want, got, "%s + %s", tt.from, tt.t)
		assert.Equal(t, tt.ok, ok, "%s + %s", tt.from, tt.t)
	}
}

func TestTranscribeWhileIdleIsIgnored(t *testing.T) {
	p := &fakeProvider{text: "hi"}
	h := newHarness(t, speech(), Options{Provider: p})
	h.triggers <- signals.Transcribe
	h.start(t.Context())

	h.waitState(t, Capturing)
	h.triggers <- signals.Shutdown

	assert.Equal(t, 0, h.wait(t))
	assert.Zero(t, p.count())
}

func TestShutdownWhileIdle(t *testing.T) {
	h := newHarness(t, speech(), Options{Provider: &fakeProvider{}})
	h.triggers <- signals.Shutdown
	h.start(t.Context())

	assert.Equal(t, 0, h.wait(t))
	assert.False(t, h.source.started)
	assert.Empty(t, h.cues.got())
}

func TestShutdownWhileCapturing(t *testing.T) {
	p := &fakeProvider{text: "never"}
	h := newHarness(t, speech(), Options{Provider: p})
	h.start(t.Context())

	h.waitState(t, Capturing)
	h.triggers <- signals.Unknown
	h.triggers <- signals.Shutdown

	assert.Equal(t, 0, h.wait(t))
	assert.Zero(t, p.count())
	assert.True(t, h.source.stopped)
	assert.Equal(t, []feedback.Cue{feedback.CueRecordingStart, feedback.CueRecordingStop}, h.cues.got())
	assert.Zero(t, h.c.Status().BufferedSeconds)
	assert.InDelta(t, 1, h.outcome(outcomeShutdown), 0)
}

func TestContextCancelIsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	h := newHarness(t, speech(), Options{Provider: &fakeProvider{}})
	h.start(ctx)

	h.waitState(t, Capturing)
	cancel()

	assert.Equal(t, 0, h.wait(t))
}

func TestBatchSuccess(t *testing.T) {
	p := &fakeProvider{text: "  hello world \n"}
	h := newHarness(t, speech(), Options{Provider: p, Language: "de", Prompt: "names"})
	h.start(t.Context())

	h.waitState(t, Capturing)
	assert.NotEmpty(t, h.c.Status().Session)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 0, h.wait(t))
	require.Equal(t, 1, p.count())
	req := p.calls[0]
	assert.Equal(t, "RIFF", string(req.Audio[:4]))
	assert.Equal(t, "de", req.Language)
	assert.Equal(t, "names", req.Prompt)
	assert.Equal(t, []string{"hello world"}, h.sink.text)
	assert.Equal(t, []feedback.Cue{feedback.CueRecordingStart, feedback.CueRecordingStop, feedback.CueSuccess}, h.cues.got())
	assert.Zero(t, h.c.Status().BufferedSeconds)
	assert.InDelta(t, 1, h.outcome(outcomeSuccess), 0)
}

func TestBatchTrimsSilenceBeforeUpload(t *testing.T) {
	p := &fakeProvider{text: "ok"}
	h := newHarness(t, speech(), Options{Provider: p})
	h.start(t.Context())
	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe
	require.Equal(t, 0, h.wait(t))

	samples, sr, err := audio.DecodeWAV(p.calls[0].Audio)
	require.NoError(t, err)
	assert.Equal(t, testRate, sr)
	assert.Less(t, len(samples), len(speech()))
	assert.InDelta(t, 0.8, audio.Peak(samples), 0.01)
}

func TestBatchPreprocessFailure(t *testing.T) {
	p := &fakeProvider{text: "never"}
	h := newHarness(t, make([]float32, testRate), Options{Provider: p})
	h.start(t.Context())

	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 1, h.wait(t))
	assert.Zero(t, p.count())
	cues := h.cues.got()
	assert.Equal(t, feedback.CueError, cues[len(cues)-1])
	assert.Empty(t, h.sink.text)
	assert.InDelta(t, 1, h.outcome(outcomeDrainError), 0)
}

func TestProviderFailure(t *testing.T) {
	p := &fakeProvider{err: transcription.AuthenticationFailed("fake")}
	h := newHarness(t, speech(), Options{Provider: p})
	h.start(t.Context())

	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 1, h.wait(t))
	assert.Equal(t, []feedback.Cue{feedback.CueRecordingStart, feedback.CueRecordingStop, feedback.CueError}, h.cues.got())
	assert.Zero(t, h.c.Status().BufferedSeconds)
}

func TestDeviceErrorNeverCaptures(t *testing.T) {
	h := newHarness(t, nil, Options{Provider: &fakeProvider{}})
	h.source.startErr = errors.New("no device")
	h.start(t.Context())

	assert.Equal(t, 1, h.wait(t))
	assert.Equal(t, []feedback.Cue{feedback.CueError}, h.cues.got())
	assert.InDelta(t, 1, h.outcome(outcomeDeviceError), 0)
}

func TestDeviceFailureWhileCapturing(t *testing.T) {
	p := &fakeProvider{text: "unused"}
	h := newHarness(t, speech(), Options{Provider: p})
	h.source.faults = make(chan error, 1)
	h.start(t.Context())
	h.waitState(t, Capturing)

	h.source.faults <- errors.New("stream read: device unavailable")

	assert.Equal(t, 1, h.wait(t))
	cues := h.cues.got()
	assert.Equal(t, feedback.CueError, cues[len(cues)-1])
	assert.InDelta(t, 1, h.outcome(outcomeDeviceError), 0)
	assert.Empty(t, h.sink.text)
	assert.Empty(t, p.calls)
	assert.True(t, h.source.stopped)
}

func TestShutdownDuringDrainingCancelsTranscription(t *testing.T) {
	p := &blockingProvider{started: make(chan struct{}), err: make(chan error, 1)}
	h := newHarness(t, speech(), Options{Provider: p})
	h.start(t.Context())

	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never called")
	}
	assert.Equal(t, Draining, h.c.State())
	h.triggers <- signals.Transcribe // ignored
	h.triggers <- signals.Shutdown

	assert.Equal(t, 1, h.wait(t))
	assert.ErrorIs(t, <-p.err, context.Canceled)
	cues := h.cues.got()
	assert.Equal(t, feedback.CueError, cues[len(cues)-1])
	assert.Zero(t, h.c.Status().BufferedSeconds)
	assert.InDelta(t, 1, h.outcome(outcomeInterrupted), 0)
}

func TestSinkExitCodeIsReturned(t *testing.T) {
	sink := &recordingSink{code: 3}
	h := newHarness(t, speech(), Options{Provider: &fakeProvider{text: "x"}, Sink: sink})
	h.start(t.Context())
	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 3, h.wait(t))
	assert.Equal(t, []string{"x"}, sink.text)
}

func TestHooksRunThroughExecutor(t *testing.T) {
	var out bytes.Buffer
	exec := command.NewExecutor(command.WithOutput(&out, &out))
	t.Cleanup(exec.Close)
	hooks := command.Hooks{
		OnStart:   &command.Hook{Type: command.HookSpawn, Command: []string{"true"}},
		OnReceive: &command.Hook{Type: command.HookSpawnWithStdin, Command: []string{"cat"}},
		OnStop:    &command.Hook{Type: command.HookSpawn, Command: []string{"false"}},
	}
	h := newHarness(t, speech(), Options{Provider: &fakeProvider{text: "from hook"}, Executor: exec, Hooks: hooks})
	h.start(t.Context())
	h.waitState(t, Capturing)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 0, h.wait(t), "hook failures never change the exit code")
	assert.Equal(t, "from hook", out.String())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.HookRuns.WithLabelValues("on_transcription_receive", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.HookRuns.WithLabelValues("on_transcription_stop", "error")), 0)
}

// scriptedBackend streams into a transport that calls onFirst after the first
// frame and onClose once the outbound side is closed.
type scriptedBackend struct {
	onFirst func(emit func(stream.Event))
	onClose func(emit func(stream.Event))

	mu     sync.Mutex
	frames int
}

func (b *scriptedBackend) Name() string      { return "scripted" }
func (b *scriptedBackend) ChunkSamples() int { return testRate / 10 }
func (b *scriptedBackend) Packetize(samples []float32, _ bool) []byte {
	return make([]byte, 2*len(samples))
}

func (b *scriptedBackend) Connect(context.Context, string) (stream.Transport, error) {
	return transportFunc(func(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error {
		n := 0
		for range frames {
			n++
			b.mu.Lock()
			b.frames++
			b.mu.Unlock()
			if n == 1 && b.onFirst != nil {
				b.onFirst(emit)
			}
		}
		if b.onClose != nil {
			b.onClose(emit)
		}
		return nil
	}), nil
}

func (b *scriptedBackend) sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

type transportFunc func(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error

func (f transportFunc) Run(ctx context.Context, frames <-chan []byte, emit func(stream.Event)) error {
	return f(ctx, frames, emit)
}

func TestStreamingJoinsFinals(t *testing.T) {
	b := &scriptedBackend{
		onFirst: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventSessionReady})
			emit(stream.Event{Type: stream.EventPartial, Text: "hel"})
			emit(stream.Event{Type: stream.EventFinal, Text: "hello"})
		},
		onClose: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventFinal, Text: " world "})
		},
	}
	h := newHarness(t, speech(), Options{Stream: b, StreamGrace: time.Second})
	h.start(t.Context())
	h.waitState(t, Capturing)
	require.Eventually(t, func() bool { return b.sent() > 0 }, 2*time.Second, time.Millisecond)
	h.triggers <- signals.Transcribe

	assert.Equal(t, 0, h.wait(t))
	assert.Equal(t, []string{"hello world"}, h.sink.text)
	assert.Equal(t, len(speech())/b.ChunkSamples(), b.sent())
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.StreamEvents.WithLabelValues("final")), 0)
}

func TestStreamingErrorFailsSession(t *testing.T) {
	b := &scriptedBackend{
		onFirst: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventError, Err: errors.New("quota exceeded")})
		},
	}
	h := newHarness(t, speech(), Options{Stream: b})
	h.start(t.Context())

	assert.Equal(t, 1, h.wait(t))
	cues := h.cues.got()
	assert.Equal(t, feedback.CueError, cues[len(cues)-1])
	assert.InDelta(t, 1, h.outcome(outcomeStreamError), 0)
}

func TestStreamingStopsOnSilence(t *testing.T) {
	b := &scriptedBackend{
		onFirst: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventVoiceStarted})
			emit(stream.Event{Type: stream.EventVoiceStopped})
		},
		onClose: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventFinal, Text: "done"})
		},
	}
	h := newHarness(t, speech(), Options{Stream: b, StopOnSilence: true})
	h.start(t.Context())

	assert.Equal(t, 0, h.wait(t))
	assert.Equal(t, []string{"done"}, h.sink.text)
}

func TestStreamingIgnoresSilenceWhenDisabled(t *testing.T) {
	b := &scriptedBackend{
		onFirst: func(emit func(stream.Event)) {
			emit(stream.Event{Type: stream.EventVoiceStarted})
			emit(stream.Event{Type: stream.EventVoiceStopped})
		},
	}
	h := newHarness(t, speech(), Options{Stream: b})
	h.start(t.Context())
	h.waitState(t, Capturing)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.StreamEvents.WithLabelValues("voice_stopped")) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, Capturing, h.c.State())

	h.triggers <- signals.Transcribe
	assert.Equal(t, 0, h.wait(t))
	assert.Equal(t, []string{""}, h.sink.text)
}
