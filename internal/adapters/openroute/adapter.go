package openroute

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/rs/zerolog"

	"github.com/nfern/imagegate/internal/models"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

var (
	// ErrUpstreamUnavailable indicates the inference endpoint could not be
	// reached at the transport level.
	ErrUpstreamUnavailable = errors.New("openroute: upstream unavailable")
	// ErrNoImage indicates the call succeeded but the model emitted no usable
	// image anywhere in the scanned response.
	ErrNoImage = errors.New("openroute: model produced no image")
	// ErrMalformedImage indicates the embedded image data failed to decode.
	ErrMalformedImage = errors.New("openroute: malformed image data")
)

// UpstreamError reports a non-success status from the inference endpoint. The
// raw body is kept for logging and never forwarded to callers.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openroute: upstream status %d", e.Status)
}

// Options configure the OpenRouter adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
	Logger  zerolog.Logger
	Extra   []option.RequestOption
}

// Adapter translates between this service's image-processing contract and an
// OpenRouter-style multimodal chat-completions endpoint.
type Adapter struct {
	client  openai.Client
	timeout time.Duration
	log     zerolog.Logger
}

// New constructs an adapter using the provided API key and optional base URL.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openroute: api key required")
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(baseURL, "/")),
		option.WithMaxRetries(0),
	}
	if referer := strings.TrimSpace(opts.Referer); referer != "" {
		requestOpts = append(requestOpts, option.WithHeader("HTTP-Referer", referer))
	}
	if title := strings.TrimSpace(opts.Title); title != "" {
		requestOpts = append(requestOpts, option.WithHeader("X-Title", title))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		client:  openai.NewClient(requestOpts...),
		timeout: timeout,
		log:     opts.Logger,
	}, nil
}

// ProcessImage submits the image and prompt to the inference endpoint and
// extracts the first generated image from the response. A single attempt is
// made; failures are never retried here.
func (a *Adapter) ProcessImage(ctx context.Context, imageBytes []byte, prompt, model string) (models.GeneratedImage, error) {
	if len(imageBytes) == 0 {
		return models.GeneratedImage{}, errors.New("openroute: image bytes required")
	}
	if strings.TrimSpace(prompt) == "" {
		return models.GeneratedImage{}, errors.New("openroute: prompt required")
	}
	if strings.TrimSpace(model) == "" {
		return models.GeneratedImage{}, errors.New("openroute: model required")
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(augmentPrompt(prompt)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURI}),
			}),
		},
		MaxTokens:   param.NewOpt(int64(4096)),
		Temperature: param.NewOpt(0.7),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithRequestTimeout(a.timeout))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			a.log.Error().Int("status", apiErr.StatusCode).Msg("inference endpoint returned error")
			return models.GeneratedImage{}, &UpstreamError{Status: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		a.log.Error().Err(err).Msg("inference endpoint unreachable")
		return models.GeneratedImage{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// Token figures are informational only.
	a.log.Debug().
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Str("model", resp.Model).
		Msg("inference call completed")

	if len(resp.Choices) == 0 {
		return models.GeneratedImage{}, ErrNoImage
	}

	found := extractDataURIs([]byte(resp.Choices[0].Message.RawJSON()))
	if len(found) == 0 {
		return models.GeneratedImage{}, ErrNoImage
	}
	if len(found) > 1 {
		a.log.Debug().Int("discarded", len(found)-1).Msg("response carried multiple images, keeping first")
	}

	first := found[0]
	decoded, err := base64.StdEncoding.DecodeString(first.Payload)
	if err != nil {
		a.log.Error().Err(err).Msg("embedded image data failed base64 decode")
		return models.GeneratedImage{}, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	return models.GeneratedImage{Format: first.Format, Data: decoded}, nil
}

// augmentPrompt wraps the caller prompt with an explicit instruction that an
// image artifact is required. The upstream model otherwise tends to answer
// with a textual description.
func augmentPrompt(prompt string) string {
	return fmt.Sprintf("GENERATE IMAGE: %s. Please create and return the actual image data/file, not just a description.", prompt)
}
