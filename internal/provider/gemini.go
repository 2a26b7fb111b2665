package provider

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
// Cross-cutting concerns (rate limiting, retries) are applied via the
// wrappers in this package.
type GeminiClient struct {
	cli *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string, model string) (*GeminiClient, error) {
	// NOTE: when apiKey is empty the genai client falls back to the
	// environment (GEMINI_API_KEY). The model is chosen per call.
	_ = model

	cli, err := genai.NewClient(ctx, geminiClientConfig(apiKey))
	if err != nil {
		return nil, classifyTransport(err)
	}
	return &GeminiClient{cli: cli}, nil
}

func geminiClientConfig(apiKey string) *genai.ClientConfig {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if key := strings.TrimSpace(apiKey); key != "" {
		cfg.APIKey = key
	}
	return cfg
}

func (g *GeminiClient) Name() string { return "gemini" }
func (g *GeminiClient) Close() error { return nil }

func (g *GeminiClient) Complete(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	resp, err := g.cli.Models.GenerateContent(ctx, cfg.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{},
	)
	if err != nil {
		return "", classifyTransport(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("no candidates in response")}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// CompleteStream performs a blocking completion and forwards the full
// text as a single chunk. The Gemini backend does not expose deltas
// through the wrapper yet.
func (g *GeminiClient) CompleteStream(ctx context.Context, prompt string, cfg ModelConfig, onChunk func(delta string)) (string, error) {
	text, err := g.Complete(ctx, prompt, cfg)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(text)
	}
	return text, nil
}

func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string, cfg ModelConfig) ([]byte, error) {
	return nil, &Error{Kind: KindPermanent, Err: fmt.Errorf("image generation is not supported for gemini models")}
}
