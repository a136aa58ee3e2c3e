// Package output delivers the final transcript.
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/atotto/clipboard"

	"github.com/obiente/translate/govoice/internal/command"
)

// Sink emits text and returns the exit code the process should finish with.
type Sink interface {
	Emit(ctx context.Context, text string) (int, error)
}

// Writer prints the transcript followed by a newline.
type Writer struct {
	W io.Writer
}

func (s Writer) Emit(_ context.Context, text string) (int, error) {
	if _, err := fmt.Fprintln(s.W, text); err != nil {
		return 1, err
	}
	return 0, nil
}

// Pipe sends the transcript to a command's stdin through the executor; the
// command's exit code becomes the result, with -1 reported as 1.
type Pipe struct {
	Executor *command.Executor
	Argv     []string
}

func (s Pipe) Emit(ctx context.Context, text string) (int, error) {
	if len(s.Argv) == 0 {
		return 1, command.ErrNoCommand
	}
	code, err := s.Executor.Run(ctx, command.Job{Name: "pipe-to", Argv: s.Argv, Input: text})
	if err != nil {
		return 1, fmt.Errorf("pipe to %s: %w", s.Argv[0], err)
	}
	if code < 0 {
		code = 1
	}
	return code, nil
}

// Clipboard copies the transcript to the system clipboard.
type Clipboard struct {
	write func(string) error
}

func (s Clipboard) Emit(_ context.Context, text string) (int, error) {
	write := s.write
	if write == nil {
		write = clipboard.WriteAll
	}
	if err := write(text); err != nil {
		return 1, fmt.Errorf("clipboard: %w", err)
	}
	return 0, nil
}
