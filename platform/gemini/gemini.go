package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Kajdep/colorbook-engine-clean-sub001/generation"
)

// ProviderName identifies this provider in generation results and events.
const ProviderName = "gemini"

// Config contains the Gemini-specific settings.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the name of the image-capable Gemini model to use.
	Model string

	// Temperature controls sampling variety. Zero leaves the model default
	// in place.
	Temperature float64
}

// Provider implements generation.Provider using Google's Gemini API.
type Provider struct {
	logger      *slog.Logger
	client      *genai.Client
	model       string
	temperature float64
}

// New creates a Gemini-backed provider with the supplied configuration.
//
// Parameters:
//   - ctx: Context for client initialization, which can be used for cancellation
//   - cfg: Gemini configuration containing the API key and model name
//   - logger: A structured logger for operation logging
//
// Returns:
//   - A properly initialized Provider or an error if initialization fails
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &Provider{
		logger:      logger.With("component", "gemini_provider"),
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate renders one piece of content through the Gemini API. Only
// drawable content types are supported; export assembly is a different
// provider's job.
func (p *Provider) Generate(ctx context.Context, contentType generation.ContentType, payload generation.Payload) (*generation.Result, error) {
	if !contentType.IsDrawable() {
		return nil, fmt.Errorf("%w: gemini cannot render %s content", generation.ErrInvalidInput, contentType)
	}

	prompt := buildPrompt(payload)
	p.logger.DebugContext(ctx, "calling Gemini API",
		"model", p.model,
		"content_type", contentType,
		"prompt_length", len(prompt))

	contents := []*genai.Content{
		{Parts: []*genai.Part{genai.NewPartFromText(prompt)}},
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if p.temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(p.temperature))
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		p.logger.ErrorContext(ctx, "Gemini API call failed",
			"model", p.model,
			"error", err)
		return nil, wrapAPIError(err)
	}

	result, err := extractImage(resp)
	if err != nil {
		p.logger.WarnContext(ctx, "Gemini response unusable",
			"model", p.model,
			"error", err)
		return nil, err
	}

	result.Provider = ProviderName
	result.Meta = map[string]string{"model": p.model}
	p.logger.DebugContext(ctx, "Gemini API call successful",
		"model", p.model,
		"image_bytes", len(result.Content),
		"elapsed", time.Since(start))
	return result, nil
}

// buildPrompt folds the payload's auxiliary fields into a single text
// prompt, since the image generation endpoint takes no separate negative
// prompt or aspect ratio parameters.
func buildPrompt(p generation.Payload) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Prompt))
	if p.AspectRatio != "" {
		fmt.Fprintf(&b, "\n\nCompose the image for a %s aspect ratio.", p.AspectRatio)
	}
	if p.NegativePrompt != "" {
		fmt.Fprintf(&b, "\n\nDo not include: %s.", p.NegativePrompt)
	}
	return b.String()
}

// wrapAPIError translates a Gemini API error into the generation error
// taxonomy based on its HTTP status code. Errors without a status code pass
// through wrapped, so context errors stay recognizable to the engine.
func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: generate content: %w", err)
	}

	switch {
	case apiErr.Code == 429:
		return fmt.Errorf("%w: %s", generation.ErrRateLimited, apiErr.Message)
	case apiErr.Code == 408:
		return fmt.Errorf("%w: %s", generation.ErrTimeout, apiErr.Message)
	case apiErr.Code >= 500:
		return fmt.Errorf("%w: %s", generation.ErrUnavailable, apiErr.Message)
	case apiErr.Code == 401 || apiErr.Code == 403:
		return fmt.Errorf("%w: %s", generation.ErrAuthentication, apiErr.Message)
	case apiErr.Code == 400:
		return fmt.Errorf("%w: %s", generation.ErrInvalidInput, apiErr.Message)
	}
	return fmt.Errorf("%w: gemini status %d: %s", generation.ErrPermanent, apiErr.Code, apiErr.Message)
}

// extractImage pulls the first inline image out of the response. A response
// with no usable image is a permanent failure: re-sending the same prompt is
// expected to produce the same outcome.
func extractImage(resp *genai.GenerateContentResponse) (*generation.Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response from model", generation.ErrPermanent)
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return nil, fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentPolicy, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", generation.ErrPermanent)
	}

	for _, cand := range resp.Candidates {
		if blockedFinish(cand.FinishReason) {
			return nil, fmt.Errorf("%w: generation stopped (%s)", generation.ErrContentPolicy, cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &generation.Result{Content: part.InlineData.Data, MIME: mime}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: response contained no image data", generation.ErrPermanent)
}

// blockedFinish reports whether the candidate was cut off by a safety
// mechanism rather than finishing normally.
func blockedFinish(r genai.FinishReason) bool {
	switch r {
	case genai.FinishReasonSafety,
		genai.FinishReasonRecitation,
		genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII:
		return true
	}
	return false
}
