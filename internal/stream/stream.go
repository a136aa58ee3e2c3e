// Package stream feeds audio to a transcription backend while recording is
// still in progress and relays the backend's transcript events.
package stream

import (
	"context"

	"github.com/obiente/translate/govoice/internal/registry"
)

type EventType int

const (
	EventSessionReady EventType = iota
	EventPartial
	EventFinal
	EventVoiceStarted
	EventVoiceStopped
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSessionReady:
		return "session_ready"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventVoiceStarted:
		return "voice_started"
	case EventVoiceStopped:
		return "voice_stopped"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one message from the backend. Text is set for partial and final
// events, Err for error events.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Transport is a live backend connection.
type Transport interface {
	// Run sends every frame received on frames and reports backend events
	// through emit. It returns once frames is closed and the backend has
	// nothing more to say, or when ctx is cancelled.
	Run(ctx context.Context, frames <-chan []byte, emit func(Event)) error
}

// Backend describes an incremental transcription service.
type Backend interface {
	Name() string
	// ChunkSamples is how many input samples go into one outbound frame.
	ChunkSamples() int
	// Packetize frames samples for the wire; first is true for the opening frame.
	Packetize(samples []float32, first bool) []byte
	Connect(ctx context.Context, language string) (Transport, error)
}

// Backends holds every compiled-in streaming backend.
var Backends = registry.New[Backend]()
