package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps a client with a token-bucket limiter so bursts of cell
// generations do not blow through a provider's request quota.
type Limited struct {
	next    Client
	limiter *rate.Limiter
}

func Limit(next Client, rps float64, burst int) *Limited {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (l *Limited) Name() string { return l.next.Name() }
func (l *Limited) Close() error { return l.next.Close() }

func (l *Limited) Complete(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", classifyTransport(err)
	}
	return l.next.Complete(ctx, prompt, cfg)
}

func (l *Limited) CompleteStream(ctx context.Context, prompt string, cfg ModelConfig, onChunk func(delta string)) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", classifyTransport(err)
	}
	return l.next.CompleteStream(ctx, prompt, cfg, onChunk)
}

func (l *Limited) GenerateImage(ctx context.Context, prompt string, cfg ModelConfig) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(err)
	}
	return l.next.GenerateImage(ctx, prompt, cfg)
}
