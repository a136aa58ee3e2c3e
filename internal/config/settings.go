package config

import (
	"strconv"
	"strings"

	"github.com/obiente/translate/govoice/internal/registry"
)

// ProviderSettings are the options for the batch provider named by Provider.
func (c Config) ProviderSettings() registry.Settings {
	switch c.Provider {
	case "google":
		return registry.Settings{
			"credentials_file":      c.GoogleCredentials,
			"project_id":            c.GoogleProject,
			"language_code":         c.GoogleLanguageCode,
			"model":                 c.GoogleModel,
			"alternative_languages": strings.Join(c.GoogleAltLanguages, ","),
		}
	case "local":
		return registry.Settings{
			"model_path": c.LocalModelPath,
			"download":   strconv.FormatBool(c.LocalDownload),
		}
	}
	return registry.Settings{
		"api_key":         c.OpenAIAPIKey,
		"base_url":        c.OpenAIBaseURL,
		"model":           c.Model,
		"timeout_seconds": strconv.Itoa(int(c.Timeout.Seconds())),
	}
}

// StreamSettings are the options for the streaming backend named by StreamingBackend.
func (c Config) StreamSettings() registry.Settings {
	s := registry.Settings{"sample_rate": strconv.Itoa(c.SampleRate)}
	switch c.StreamingBackend {
	case "realtime":
		s["api_key"] = c.OpenAIAPIKey
		s["url"] = c.RealtimeURL
		s["model"] = c.RealtimeModel
		s["transcription_model"] = c.Model
	case "whisperws":
		s["url"] = c.WhisperWSURL
	case "upload":
		s["api_key"] = c.OpenAIAPIKey
		s["base_url"] = c.OpenAIBaseURL
		s["model"] = c.Model
		s["prompt"] = c.Prompt
		s["timeout_seconds"] = strconv.Itoa(int(c.Timeout.Seconds()))
	}
	return s
}
