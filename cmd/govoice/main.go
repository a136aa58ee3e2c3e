package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/govoice/internal/command"
	"github.com/obiente/translate/govoice/internal/config"
	"github.com/obiente/translate/govoice/internal/device"
	"github.com/obiente/translate/govoice/internal/feedback"
	diaghttp "github.com/obiente/translate/govoice/internal/http"
	"github.com/obiente/translate/govoice/internal/metrics"
	"github.com/obiente/translate/govoice/internal/output"
	"github.com/obiente/translate/govoice/internal/session"
	"github.com/obiente/translate/govoice/internal/signals"
	"github.com/obiente/translate/govoice/internal/stream"
	"github.com/obiente/translate/govoice/internal/transcription"

	_ "github.com/obiente/translate/govoice/internal/stream/realtime"
	_ "github.com/obiente/translate/govoice/internal/stream/upload"
	_ "github.com/obiente/translate/govoice/internal/stream/whisperws"
	_ "github.com/obiente/translate/govoice/internal/transcription/google"
	_ "github.com/obiente/translate/govoice/internal/transcription/local"
	_ "github.com/obiente/translate/govoice/internal/transcription/openai"
)

func main() {
	os.Exit(run())
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	log.Logger = log.Level(lvl)
}

func run() int {
	envFile := flag.String("envfile", filepath.Join(config.ConfigDir(), ".env"), "env file read before the environment")
	profile := flag.String("profile", "", "profile name from PROFILES_FILE")
	pipeTo := flag.Bool("pipe-to", false, "pipe the transcript to the command given as the remaining arguments")
	download := flag.Bool("download-model", false, "fetch the local whisper model if it is missing")
	flag.Parse()

	envErr := config.LoadEnvFile(*envFile)
	cfg := config.Load()
	setupLogging(cfg.LogLevel, os.Getenv("LOG_FORMAT"))
	if envErr != nil {
		log.Error().Err(envErr).Msg("env file")
		return 1
	}

	// Subscribe before the slow setup below so an early SIGUSR1 is logged
	// and ignored instead of killing the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	triggers := signals.Notify(ctx)

	if *download {
		cfg.LocalDownload = true
	}

	p, err := config.SelectProfile(cfg.ProfilesFile, *profile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.ProfilesFile).Msg("profile")
		return 1
	}
	p.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	if *pipeTo && flag.NArg() == 0 {
		log.Error().Err(command.ErrNoCommand).Msg("--pipe-to")
		return 1
	}

	m := metrics.New()
	exec := command.NewExecutor(command.WithTimeout(time.Minute))
	defer exec.Close()

	opts := session.Options{
		SampleRate:    cfg.SampleRate,
		BufferSeconds: cfg.BufferSeconds,
		Language:      cfg.Language,
		Prompt:        cfg.Prompt,
		StreamGrace:   cfg.StreamGrace,
		StopOnSilence: cfg.StopOnSilence,
		Executor:      exec,
		Hooks:         p.Hooks,
		Notifier:      feedback.NewNotifier(cfg.DesktopNotifications, "govoice"),
		Metrics:       m,
	}
	switch {
	case *pipeTo:
		opts.Sink = output.Pipe{Executor: exec, Argv: flag.Args()}
	case cfg.Output == "clipboard":
		opts.Sink = output.Clipboard{}
	default:
		opts.Sink = output.Writer{W: os.Stdout}
	}

	if cfg.Streaming() {
		backend, err := stream.Backends.Create(cfg.StreamingBackend, cfg.StreamSettings())
		if err != nil {
			log.Error().Err(err).Msg("streaming backend")
			return 1
		}
		opts.Stream = backend
	} else {
		provider, err := transcription.New(cfg.Provider, cfg.ProviderSettings())
		if err != nil {
			ev := log.Error().Err(err).Str("provider", cfg.Provider)
			if te, ok := transcription.AsError(err); ok && te.Hint() != "" {
				ev = ev.Str("hint", te.Hint())
			}
			ev.Msg("transcription provider")
			return 1
		}
		if c, ok := provider.(io.Closer); ok {
			defer c.Close()
		}
		policy := transcription.DefaultRetryPolicy(cfg.MaxRetries)
		policy.OnAttempt = m.RecordAttempt
		opts.Provider = transcription.WithRetry(provider, policy)
	}

	terminate, err := device.Init()
	if err != nil {
		log.Error().Err(err).Msg("audio init")
		return 1
	}
	defer terminate()

	cues := feedback.NewSerializer(device.Speaker{}, feedback.Options{
		Enabled: cfg.AudioFeedback,
		Volume:  cfg.BeepVolume,
		OnCue:   func(c feedback.Cue) { m.FeedbackCues.WithLabelValues(c.String()).Inc() },
	})
	defer cues.Close()

	ctrl := session.New(device.NewMicrophone(cfg.SampleRate), cues, opts)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr: cfg.MetricsAddr,
			Handler: diaghttp.NewRouter(m, func() diaghttp.Status {
				st := ctrl.Status()
				return diaghttp.Status{State: st.State.String(), Session: st.Session, BufferedSeconds: st.BufferedSeconds}
			}),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("diagnostics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("diagnostics server failed")
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	mode := cfg.Provider
	if cfg.Streaming() {
		mode = cfg.StreamingBackend
	}
	log.Info().Int("pid", os.Getpid()).Str("backend", mode).Msg("govoice starting, send SIGUSR1 to transcribe")
	return ctrl.Run(ctx, triggers)
}
