package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/pkg/retry"
)

// Result is a generated image.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Provider generates an image from a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible image API, e.g.
	// "https://api.openai.com/v1" or "http://localai:8080/v1".
	Endpoint string
	// APIKey is optional for local services.
	APIKey string
	// Model and Size are passed through; empty leaves the server default.
	Model   string
	Size    string
	Timeout time.Duration
	// MaxBytes bounds the decoded image.
	MaxBytes int64
	Retry    retry.Config
}

// HTTPProvider calls the images/generations operation of an
// OpenAI-compatible service and asks for base64 image data.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *openai.Client
	logger *slog.Logger
}

// NewHTTPProvider creates a provider. client may be nil.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client, logger *slog.Logger) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "HTTPProvider", "New", "generation endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused" // local services ignore it
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	config.HTTPClient = client

	return &HTTPProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(config),
		logger: logger.With("component", "provider"),
	}, nil
}

// Generate implements Provider. Server errors, rate limits and transport
// failures are retried; other client errors are not.
func (p *HTTPProvider) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, errors.WrapInvalid(errors.ErrInvalidData, "HTTPProvider", "Generate", "empty prompt")
	}
	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.cfg.Model,
		Size:           p.cfg.Size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}

	res, err := retry.DoWithResult(ctx, p.cfg.Retry, func() (Result, error) {
		return p.call(ctx, req)
	})
	if err != nil {
		return Result{}, errors.WrapTransient(errors.Join(errors.ErrProviderFailed, err), "HTTPProvider", "Generate", "call provider")
	}
	return res, nil
}

func (p *HTTPProvider) call(ctx context.Context, req openai.ImageRequest) (Result, error) {
	resp, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return Result{}, p.classify(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Result{}, retry.NonRetryable(fmt.Errorf("%w: no image in provider response", errors.ErrInvalidData))
	}

	encoded := resp.Data[0].B64JSON
	if base64.StdEncoding.DecodedLen(len(encoded)) > int(p.cfg.MaxBytes)+2 {
		return Result{}, retry.NonRetryable(fmt.Errorf("image larger than %d bytes", p.cfg.MaxBytes))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Result{}, retry.NonRetryable(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err))
	}

	info, err := Inspect(data)
	if err != nil {
		return Result{}, retry.NonRetryable(err)
	}
	return Result{Data: data, ContentType: info.ContentType, Width: info.Width, Height: info.Height}, nil
}

// classify marks client errors other than 429 as not worth retrying.
func (p *HTTPProvider) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == 0, status >= 500, status == http.StatusTooManyRequests:
		p.logger.Warn("Provider unavailable", "status", status, "error", err)
		return err
	default:
		return retry.NonRetryable(fmt.Errorf("provider status %d: %w", status, err))
	}
}
