// Package google implements batch recognition through Cloud Speech-to-Text v2.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obiente/translate/govoice/internal/registry"
	"github.com/obiente/translate/govoice/internal/transcription"
)

const (
	Name                = "google"
	DefaultLanguageCode = "en-US"
	DefaultModel        = "long"
)

func init() {
	transcription.Providers.Register(Name, func(s registry.Settings) (transcription.Provider, error) {
		return New(s)
	})
}

type recognizeFunc func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Provider sends the WAV container inline with auto-detected decoding.
type Provider struct {
	projectID    string
	region       string
	languageCode string
	alternatives []string
	model        string
	opts         []option.ClientOption

	mu        sync.Mutex
	recognize recognizeFunc
	closer    func() error
}

// New reads settings: credentials_file, project_id, region, language_code,
// alternative_languages (comma separated) and model.
func New(s registry.Settings) (*Provider, error) {
	p := &Provider{
		projectID:    s.Get("project_id", ""),
		region:       s.Get("region", "global"),
		languageCode: s.Get("language_code", DefaultLanguageCode),
		model:        s.Get("model", DefaultModel),
	}
	for _, l := range strings.Split(s.Get("alternative_languages", ""), ",") {
		if l = strings.TrimSpace(l); l != "" {
			p.alternatives = append(p.alternatives, l)
		}
	}
	if path := s.Get("credentials_file", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, transcription.ConfigurationError("read google credentials %s: %v", path, err)
		}
		p.opts = append(p.opts, option.WithCredentialsJSON(b))
		if p.projectID == "" {
			var creds struct {
				ProjectID string `json:"project_id"`
			}
			if err := json.Unmarshal(b, &creds); err != nil {
				return nil, transcription.JSONError(Name, err)
			}
			p.projectID = creds.ProjectID
		}
	}
	if p.projectID == "" {
		return nil, transcription.ConfigurationError("GOOGLE_CLOUD_PROJECT is required when the credentials file has no project_id")
	}
	if p.region != "global" {
		p.opts = append(p.opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:443", p.region)))
	}
	return p, nil
}

func (p *Provider) Name() string { return Name }

// Recognizer is the implicit recognizer path for the configured project and region.
func (p *Provider) Recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.projectID, p.region)
}

// BuildRequest assembles the RecognizeRequest; a language hint replaces the
// configured primary language code.
func (p *Provider) BuildRequest(req transcription.Request) *speechpb.RecognizeRequest {
	primary := p.languageCode
	if lang := transcription.NormalizeLanguage(req.Language); lang != "" {
		primary = lang
	}
	langs := append([]string{primary}, p.alternatives...)
	return &speechpb.RecognizeRequest{
		Recognizer: p.Recognizer(),
		Config: &speechpb.RecognitionConfig{
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Model:         p.model,
			LanguageCodes: langs,
			Features: &speechpb.RecognitionFeatures{
				EnableAutomaticPunctuation: true,
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: req.Audio},
	}
}

func (p *Provider) client(ctx context.Context) (recognizeFunc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recognize != nil {
		return p.recognize, nil
	}
	c, err := speech.NewClient(ctx, p.opts...)
	if err != nil {
		return nil, transcription.ConfigurationError("create speech client: %v", err)
	}
	p.recognize = func(ctx context.Context, r *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, r)
	}
	p.closer = c.Close
	return p.recognize, nil
}

func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	if err := transcription.CheckSize(req.Audio); err != nil {
		return "", err
	}
	recognize, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := recognize(ctx, p.BuildRequest(req))
	if err != nil {
		return "", mapError(err)
	}
	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	log.Debug().Int("results", len(resp.GetResults())).Msg("google: recognize complete")
	return strings.Join(parts, " "), nil
}

// Close releases the gRPC connection if one was opened.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closer == nil {
		return nil
	}
	err := p.closer()
	p.closer, p.recognize = nil, nil
	return err
}

func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return transcription.TransportError(Name, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return transcription.AuthenticationFailed(Name)
	case codes.Unavailable:
		return transcription.NetworkError(Name, "connection", err)
	case codes.DeadlineExceeded:
		return transcription.NetworkError(Name, "timeout", err)
	case codes.Canceled:
		return err
	}
	return transcription.APIError(Name, 0, st.Code().String(), st.Message(), "")
}
