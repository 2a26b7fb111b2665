package provider

import (
	"context"
	"time"
)

// Retrying retries transient failures (timeout, rate-limit) with
// exponential backoff starting at base. Permanent and invalid-response
// failures pass through untouched. The wrapped client itself never
// retries, so stacking this is the only retry policy in play.
type Retrying struct {
	next Client
	max  int
	base time.Duration
}

func Retry(next Client, maxAttempts int, base time.Duration) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 300 * time.Millisecond
	}
	return &Retrying{next: next, max: maxAttempts, base: base}
}

func (r *Retrying) Name() string { return r.next.Name() }
func (r *Retrying) Close() error { return r.next.Close() }

func (r *Retrying) Complete(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	var out string
	err := r.attempt(ctx, func() error {
		var err error
		out, err = r.next.Complete(ctx, prompt, cfg)
		return err
	})
	return out, err
}

func (r *Retrying) CompleteStream(ctx context.Context, prompt string, cfg ModelConfig, onChunk func(delta string)) (string, error) {
	// Chunks from a failed attempt must not leak to the caller: buffer
	// deltas per attempt and replay only the successful one.
	var out string
	err := r.attempt(ctx, func() error {
		var acc []string
		text, err := r.next.CompleteStream(ctx, prompt, cfg, func(delta string) {
			acc = append(acc, delta)
		})
		if err != nil {
			return err
		}
		out = text
		if onChunk != nil {
			for _, delta := range acc {
				onChunk(delta)
			}
		}
		return nil
	})
	return out, err
}

func (r *Retrying) GenerateImage(ctx context.Context, prompt string, cfg ModelConfig) ([]byte, error) {
	var out []byte
	err := r.attempt(ctx, func() error {
		var err error
		out, err = r.next.GenerateImage(ctx, prompt, cfg)
		return err
	})
	return out, err
}

func (r *Retrying) attempt(ctx context.Context, call func() error) error {
	var last error
	for i := 0; i < r.max; i++ {
		err := call()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
		select {
		case <-ctx.Done():
			return classifyTransport(ctx.Err())
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return last
}
