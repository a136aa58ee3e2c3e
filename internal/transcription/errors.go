package transcription

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindAuthentication ErrorKind = iota
	KindNetwork
	KindFileTooLarge
	KindAPI
	KindConfiguration
	KindUnsupportedProvider
	KindJSON
	KindEngine
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_failed"
	case KindNetwork:
		return "network_error"
	case KindFileTooLarge:
		return "file_too_large"
	case KindAPI:
		return "api_error"
	case KindConfiguration:
		return "configuration_error"
	case KindUnsupportedProvider:
		return "unsupported_provider"
	case KindJSON:
		return "json_error"
	case KindEngine:
		return "engine_error"
	}
	return "unknown"
}

// Error is the single failure type returned by providers. Only the fields
// relevant to Kind are populated.
type Error struct {
	Kind     ErrorKind
	Provider string

	NetworkType string // Network: "timeout", "connection", "request"
	StatusCode  int    // API, 0 when unknown
	Code        string // API: vendor error code
	Message     string
	Raw         string // API: response body, when available
	Size        int    // FileTooLarge: bytes
	Max         int    // FileTooLarge: limit in bytes
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuthentication:
		return fmt.Sprintf("%s: authentication failed", e.Provider)
	case KindNetwork:
		return fmt.Sprintf("%s: network error (%s): %s", e.Provider, e.NetworkType, e.Message)
	case KindFileTooLarge:
		if e.Size == 0 {
			return fmt.Sprintf("audio file too large (max %d bytes)", e.Max)
		}
		return fmt.Sprintf("audio file too large: %d bytes (max %d)", e.Size, e.Max)
	case KindAPI:
		msg := e.Provider + ": api error"
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(" status=%d", e.StatusCode)
		}
		if e.Code != "" {
			msg += " code=" + e.Code
		}
		return msg + ": " + e.Message
	case KindConfiguration:
		return "configuration error: " + e.Message
	case KindUnsupportedProvider:
		return fmt.Sprintf("unsupported transcription provider %q", e.Provider)
	case KindJSON:
		return fmt.Sprintf("%s: invalid json: %s", e.Provider, e.Message)
	case KindEngine:
		return fmt.Sprintf("%s: inference failed: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Retryable reports whether the caller should try again.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindAPI
}

// Hint is a one-line remediation shown to the operator, or "".
func (e *Error) Hint() string {
	switch e.Kind {
	case KindAuthentication:
		switch e.Provider {
		case "openai", "realtime", "upload":
			return "check OPENAI_API_KEY"
		case "google":
			return "check GOOGLE_APPLICATION_CREDENTIALS"
		}
		return "check provider credentials"
	case KindNetwork:
		return "check network connectivity and OPENAI_BASE_URL"
	case KindFileTooLarge:
		return "shorten the recording or lower AUDIO_BUFFER_DURATION_SECONDS"
	case KindEngine:
		return "check LOCAL_MODEL_PATH points at a valid ggml model"
	case KindUnsupportedProvider:
		return "set TRANSCRIPTION_PROVIDER to openai, google or local"
	case KindAPI:
		if e.StatusCode == 429 {
			return "rate limited; wait and retry"
		}
	}
	return ""
}

func AuthenticationFailed(provider string) *Error {
	return &Error{Kind: KindAuthentication, Provider: provider}
}

func NetworkError(provider, typ string, err error) *Error {
	return &Error{Kind: KindNetwork, Provider: provider, NetworkType: typ, Message: err.Error()}
}

func FileTooLarge(size, max int) *Error {
	return &Error{Kind: KindFileTooLarge, Size: size, Max: max}
}

func APIError(provider string, status int, code, message, raw string) *Error {
	return &Error{Kind: KindAPI, Provider: provider, StatusCode: status, Code: code, Message: message, Raw: raw}
}

// EngineError wraps a failure of an in-process model. Running the same audio
// through it again fails the same way, so it is never retried.
func EngineError(provider string, err error) *Error {
	return &Error{Kind: KindEngine, Provider: provider, Message: err.Error()}
}

func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func UnsupportedProvider(name string) *Error {
	return &Error{Kind: KindUnsupportedProvider, Provider: name}
}

func JSONError(provider string, err error) *Error {
	return &Error{Kind: KindJSON, Provider: provider, Message: err.Error()}
}

// AsError unwraps err to a *Error when it is one.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
