package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider call unless the model config
// overrides it.
const DefaultTimeout = 90 * time.Second

// ModelConfig parameterizes one provider call.
type ModelConfig struct {
	Provider    string
	Model       string
	EndpointURL string
	APIKey      string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func (c ModelConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Client is the single point of contact with an external model service.
// Implementations never retry internally; retry policy is layered on top
// (see Retry). Failures are classified into the Kind taxonomy rather than
// passed through raw.
type Client interface {
	Name() string

	// Complete performs one blocking completion.
	Complete(ctx context.Context, prompt string, cfg ModelConfig) (string, error)

	// CompleteStream delivers incremental text deltas through onChunk and
	// returns the final accumulated text. onChunk may be nil.
	CompleteStream(ctx context.Context, prompt string, cfg ModelConfig, onChunk func(delta string)) (string, error)

	// GenerateImage produces raw image bytes for the prompt.
	GenerateImage(ctx context.Context, prompt string, cfg ModelConfig) ([]byte, error)

	Close() error
}

// New picks a client implementation for the configured provider.
// OpenAI-compatible chat-completions endpoints (OpenAI itself, Ollama,
// vLLM, and custom gateways) all go through the same adapter.
func New(cfg ModelConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "gemini":
		return NewGeminiClient(context.Background(), cfg.APIKey, cfg.Model)
	case "", "openai", "ollama", "vllm", "custom":
		return NewOpenAICompatClient(cfg.EndpointURL, cfg.APIKey), nil
	default:
		return nil, &Error{
			Kind: KindPermanent,
			Err:  fmt.Errorf("unknown model provider %q", cfg.Provider),
		}
	}
}
