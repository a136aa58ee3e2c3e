package command

import "fmt"

type HookType string

const (
	HookSpawn          HookType = "spawn"
	HookSpawnWithStdin HookType = "spawn_with_stdin"
)

// Hook is a command run at a point in the session. spawn_with_stdin hooks get
// the transcript on stdin.
type Hook struct {
	Type    HookType `yaml:"type"`
	Command []string `yaml:"command"`
}

func (h Hook) Validate() error {
	switch h.Type {
	case HookSpawn, HookSpawnWithStdin:
	default:
		return fmt.Errorf("hook type %q: want spawn or spawn_with_stdin", h.Type)
	}
	if len(h.Command) == 0 {
		return ErrNoCommand
	}
	return nil
}

type Hooks struct {
	OnStart   *Hook `yaml:"on_transcription_start"`
	OnReceive *Hook `yaml:"on_transcription_receive"`
	OnStop    *Hook `yaml:"on_transcription_stop"`
}

func (h Hooks) Validate() error {
	for name, hook := range map[string]*Hook{
		"on_transcription_start":   h.OnStart,
		"on_transcription_receive": h.OnReceive,
		"on_transcription_stop":    h.OnStop,
	} {
		if hook == nil {
			continue
		}
		if err := hook.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Job builds the executor job for hook; text is only sent to stdin hooks.
func (h Hook) Job(name, text string) Job {
	j := Job{Name: name, Argv: h.Command}
	if h.Type == HookSpawnWithStdin {
		j.Input = text
	}
	return j
}
