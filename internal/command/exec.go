// Package command runs hook and pipe-to processes one at a time.
package command

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// ErrNoCommand is returned for an empty argv.
var ErrNoCommand = errors.New("no command provided")

// RunWithInput starts argv with input on stdin and waits for it. The exit code
// is -1 when the process ended without one (for example, killed by a signal).
// A non-zero exit is not an error; failing to start is.
func RunWithInput(ctx context.Context, argv []string, input string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 || argv[0] == "" {
		return -1, ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return cmd.ProcessState.ExitCode(), nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
