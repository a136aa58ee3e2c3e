package whisper

import "errors"

// ErrUnavailable is returned by NewEngine when the binary was built without whisper.cpp.
var ErrUnavailable = errors.New("whisper.cpp support not compiled in (build with -tags whisper_cpp)")

// SampleRate is the only rate whisper.cpp accepts.
const SampleRate = 16000

// Engine runs a local whisper model over complete recordings.
// Implementations may be a stub or backed by whisper.cpp (build tag: whisper_cpp).
type Engine interface {
	// Transcribe runs a full-context pass over 16 kHz mono samples and returns
	// the joined segment text and the language used or detected.
	Transcribe(samples []float32, language string) (string, string, error)
	Close() error
}
