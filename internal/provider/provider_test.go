package provider

import (
	"context"
	"testing"
	"time"
)

func TestNewUnknownProviderIsPermanent(t *testing.T) {
	_, err := New(ModelConfig{Provider: "not-a-provider", Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := KindOf(err); got != KindPermanent {
		t.Fatalf("kind = %s, want permanent", got)
	}
}

func TestNewOpenAICompatibleAliases(t *testing.T) {
	for _, name := range []string{"", "openai", "Ollama", "vllm", "custom"} {
		c, err := New(ModelConfig{Provider: name, Model: "m"})
		if err != nil {
			t.Fatalf("provider %q: %v", name, err)
		}
		if _, ok := c.(*OpenAICompatClient); !ok {
			t.Fatalf("provider %q: got %T, want OpenAI-compatible adapter", name, c)
		}
	}
}

func TestModelConfigTimeoutDefault(t *testing.T) {
	if got := (ModelConfig{}).timeout(); got != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", got, DefaultTimeout)
	}
	if got := (ModelConfig{Timeout: 5 * time.Second}).timeout(); got != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", got)
	}
}

func TestLimitSpacesCalls(t *testing.T) {
	inner := &scriptedClient{reply: "ok"}
	l := Limit(inner, 50, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := l.Complete(context.Background(), "p", ModelConfig{}); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}
	// 50 rps with burst 1 means calls 2 and 3 each wait ~20ms.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("3 calls finished in %v, limiter not applied", elapsed)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d", inner.calls)
	}
}

func TestLimitCanceledContext(t *testing.T) {
	inner := &scriptedClient{reply: "ok"}
	l := Limit(inner, 0.001, 1)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := l.Complete(ctx, "p", ModelConfig{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	cancel()
	if _, err := l.Complete(ctx, "p", ModelConfig{}); err == nil {
		t.Fatalf("expected error waiting on canceled context")
	}
}
