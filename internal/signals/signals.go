// Package signals turns OS signals into session triggers.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

type Trigger int

const (
	Unknown Trigger = iota
	Transcribe
	Shutdown
)

func (t Trigger) String() string {
	switch t {
	case Transcribe:
		return "transcribe"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// Watched is every signal the process subscribes to. Signals outside the
// transcribe and shutdown sets still arrive so they can be logged instead of
// killing the process.
var Watched = []os.Signal{syscall.SIGUSR1, syscall.SIGTERM, os.Interrupt, syscall.SIGUSR2, syscall.SIGHUP}

func FromSignal(sig os.Signal) Trigger {
	switch sig {
	case syscall.SIGUSR1:
		return Transcribe
	case syscall.SIGTERM, os.Interrupt:
		return Shutdown
	}
	return Unknown
}

// Notify relays Watched signals as triggers until ctx is done, then closes
// the returned channel.
func Notify(ctx context.Context) <-chan Trigger {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, Watched...)
	out := make(chan Trigger, 4)
	go func() {
		defer close(out)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				t := FromSignal(sig)
				log.Debug().Str("signal", sig.String()).Str("trigger", t.String()).Msg("signal received")
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
