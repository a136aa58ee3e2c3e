// Package device wraps PortAudio for microphone capture and cue playback.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/govoice/internal/audio"
)

// ErrNoInputDevice is returned when the host has no default capture device.
var ErrNoInputDevice = errors.New("device: no default input device")

// Init must be called once before any stream is opened; the returned func terminates PortAudio.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: init portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Microphone captures mono float32 frames into a ring buffer producer.
type Microphone struct {
	SampleRate      int
	FramesPerBuffer int

	mu     sync.Mutex
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
	errs   chan error
}

func NewMicrophone(sampleRate int) *Microphone {
	return &Microphone{SampleRate: sampleRate, FramesPerBuffer: sampleRate / 50}
}

// Start opens the default input and begins writing into p from a dedicated
// goroutine. It returns once the stream is running or failed to start.
func (m *Microphone) Start(p *audio.Producer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return errors.New("device: microphone already started")
	}
	dev, err := defaultInput(portaudio.DefaultInputDevice())
	if err != nil {
		return err
	}
	in := make([]float32, m.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.SampleRate), len(in), in)
	if err != nil {
		return fmt.Errorf("device: open input stream at %d Hz: %w", m.SampleRate, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("device: start input stream: %w", err)
	}
	log.Info().Str("device", dev.Name).Int("sample_rate", m.SampleRate).Msg("device: capture started")

	m.stream = stream
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.errs = make(chan error, 1)
	go m.loop(stream, in, p, m.stop, m.done, m.errs)
	return nil
}

// Err delivers the read error that ended capture, if any. Each Start gets a
// fresh channel.
func (m *Microphone) Err() <-chan error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs
}

func (m *Microphone) loop(stream *portaudio.Stream, in []float32, p *audio.Producer, stop, done chan struct{}, errs chan<- error) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				log.Debug().Msg("device: input overflowed")
				continue
			}
			log.Error().Err(err).Msg("device: read failed, capture stopped")
			errs <- fmt.Errorf("device: read: %w", err)
			return
		}
		p.Write(in)
	}
}

func defaultInput(dev *portaudio.DeviceInfo, err error) (*portaudio.DeviceInfo, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInputDevice, err)
	}
	if dev == nil {
		return nil, ErrNoInputDevice
	}
	return dev, nil
}

// Stop halts capture and waits for the reader goroutine to exit.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	close(m.stop)
	<-m.done
	err := errors.Join(m.stream.Stop(), m.stream.Close())
	m.stream = nil
	log.Info().Msg("device: capture stopped")
	return err
}

// Speaker plays rendered cues on the default output device.
type Speaker struct{}

func (Speaker) Play(ctx context.Context, samples []float32, sampleRate int) error {
	out := make([]float32, sampleRate/50)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("device: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("device: start output stream: %w", err)
	}
	defer stream.Stop()
	for off := 0; off < len(samples); off += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, samples[off:])
		clear(out[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("device: write: %w", err)
		}
	}
	return nil
}
