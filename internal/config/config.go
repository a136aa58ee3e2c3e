package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Provider         string
	StreamingBackend string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	Language      string
	Prompt        string
	Timeout       time.Duration
	MaxRetries    int

	RealtimeModel string
	RealtimeURL   string
	WhisperWSURL  string
	StreamGrace   time.Duration
	StopOnSilence bool

	BufferSeconds int
	SampleRate    int
	Channels      int

	AudioFeedback        bool
	BeepVolume           float64
	DesktopNotifications bool
	Output               string

	GoogleCredentials  string
	GoogleProject      string
	GoogleLanguageCode string
	GoogleModel        string
	GoogleAltLanguages []string

	LocalModelPath string
	LocalDownload  bool

	MetricsAddr  string
	ProfilesFile string
	LogLevel     string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "no", "off":
			return false
		default:
			return true
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ConfigDir is where the default .env and profiles files live.
func ConfigDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "govoice")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "govoice")
}

// LoadEnvFile reads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	return Config{
		Provider:         getenv("TRANSCRIPTION_PROVIDER", "openai"),
		StreamingBackend: getenv("STREAMING_BACKEND", ""),

		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:         getenv("WHISPER_MODEL", "whisper-1"),
		Language:      getenv("WHISPER_LANGUAGE", "auto"),
		Timeout:       time.Duration(getenvInt("WHISPER_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:    getenvInt("WHISPER_MAX_RETRIES", 3),

		RealtimeModel: getenv("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeURL:   getenv("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		WhisperWSURL:  getenv("WHISPERWS_URL", "ws://localhost:8080/ws/transcribe"),
		StreamGrace:   time.Duration(getenvInt("STREAM_GRACE_MS", 1000)) * time.Millisecond,
		StopOnSilence: getenvBool("STREAM_STOP_ON_SILENCE", false),

		BufferSeconds: getenvInt("AUDIO_BUFFER_DURATION_SECONDS", 300),
		SampleRate:    getenvInt("AUDIO_SAMPLE_RATE", 16000),
		Channels:      getenvInt("AUDIO_CHANNELS", 1),

		AudioFeedback:        getenvBool("ENABLE_AUDIO_FEEDBACK", true),
		BeepVolume:           getenvFloat("BEEP_VOLUME", 0.1),
		DesktopNotifications: getenvBool("DESKTOP_NOTIFICATIONS", false),
		Output:               getenv("OUTPUT", "stdout"),

		GoogleCredentials:  getenv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleProject:      getenv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLanguageCode: getenv("GOOGLE_SPEECH_LANGUAGE_CODE", "en-US"),
		GoogleModel:        getenv("GOOGLE_SPEECH_MODEL", "long"),
		GoogleAltLanguages: getenvList("GOOGLE_SPEECH_ALTERNATIVE_LANGUAGES"),

		LocalModelPath: getenv("LOCAL_MODEL_PATH", "./models/ggml-base.en.bin"),
		LocalDownload:  getenvBool("LOCAL_MODEL_DOWNLOAD", false),

		MetricsAddr:  getenv("METRICS_ADDR", ""),
		ProfilesFile: getenv("PROFILES_FILE", filepath.Join(ConfigDir(), "profiles.yaml")),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}
}

// Validate returns the first violated rule.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("AUDIO_SAMPLE_RATE must be greater than 0")
	case c.Channels <= 0:
		return errors.New("AUDIO_CHANNELS must be greater than 0")
	case c.Channels != 1:
		return fmt.Errorf("AUDIO_CHANNELS=%d: only mono capture is supported", c.Channels)
	case c.BufferSeconds <= 0:
		return errors.New("AUDIO_BUFFER_DURATION_SECONDS must be greater than 0")
	case c.BeepVolume < 0 || c.BeepVolume > 1:
		return fmt.Errorf("BEEP_VOLUME=%g must be between 0 and 1", c.BeepVolume)
	case c.Timeout <= 0:
		return errors.New("WHISPER_TIMEOUT_SECONDS must be greater than 0")
	case c.MaxRetries < 0:
		return errors.New("WHISPER_MAX_RETRIES must not be negative")
	}
	switch c.Output {
	case "stdout", "clipboard":
	default:
		return fmt.Errorf("OUTPUT=%q: want stdout or clipboard", c.Output)
	}
	return nil
}

// Streaming reports whether a streaming backend replaces the batch provider.
func (c Config) Streaming() bool { return c.StreamingBackend != "" }
