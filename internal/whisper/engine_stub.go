//go:build !whisper_cpp

package whisper

// NewEngine without the whisper_cpp tag always fails so the local provider can
// report a configuration error instead of returning empty transcripts.
func NewEngine(modelPath string, threads int) (Engine, error) {
	return nil, ErrUnavailable
}
