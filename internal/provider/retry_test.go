package provider

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type scriptedClient struct {
	calls   int
	results []error
	reply   string
}

func (s *scriptedClient) Name() string { return "scripted" }
func (s *scriptedClient) Close() error { return nil }

func (s *scriptedClient) next() error {
	if s.calls < len(s.results) {
		err := s.results[s.calls]
		s.calls++
		return err
	}
	s.calls++
	return nil
}

func (s *scriptedClient) Complete(context.Context, string, ModelConfig) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return s.reply, nil
}

func (s *scriptedClient) CompleteStream(_ context.Context, _ string, _ ModelConfig, onChunk func(delta string)) (string, error) {
	if err := s.next(); err != nil {
		if onChunk != nil {
			onChunk("leaked partial")
		}
		return "", err
	}
	if onChunk != nil {
		onChunk(s.reply)
	}
	return s.reply, nil
}

func (s *scriptedClient) GenerateImage(context.Context, string, ModelConfig) ([]byte, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return []byte(s.reply), nil
}

func transientErr() error {
	return &Error{Kind: KindRateLimited, Err: fmt.Errorf("429")}
}

func permanentErr() error {
	return &Error{Kind: KindPermanent, Err: fmt.Errorf("401")}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &scriptedClient{reply: "ok", results: []error{transientErr(), transientErr()}}
	r := Retry(inner, 3, time.Millisecond)

	got, err := r.Complete(context.Background(), "p", ModelConfig{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	inner := &scriptedClient{reply: "ok", results: []error{permanentErr()}}
	r := Retry(inner, 5, time.Millisecond)

	_, err := r.Complete(context.Background(), "p", ModelConfig{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &scriptedClient{results: []error{transientErr(), transientErr(), transientErr()}}
	r := Retry(inner, 3, time.Millisecond)

	_, err := r.Complete(context.Background(), "p", ModelConfig{})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if !IsTransient(err) {
		t.Fatalf("final error lost its classification: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryStreamDoesNotLeakFailedAttemptChunks(t *testing.T) {
	inner := &scriptedClient{reply: "final", results: []error{transientErr()}}
	r := Retry(inner, 2, time.Millisecond)

	var chunks []string
	got, err := r.CompleteStream(context.Background(), "p", ModelConfig{}, func(delta string) {
		chunks = append(chunks, delta)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != "final" {
		t.Fatalf("got %q", got)
	}
	if len(chunks) != 1 || chunks[0] != "final" {
		t.Fatalf("chunks = %v, failed attempt leaked", chunks)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	inner := &scriptedClient{results: []error{transientErr(), transientErr(), transientErr()}}
	r := Retry(inner, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Complete(ctx, "p", ModelConfig{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1 before backoff abort", inner.calls)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&Error{Kind: KindTimeout, Err: fmt.Errorf("t")}) {
		t.Fatalf("timeout should be transient")
	}
	if !IsTransient(transientErr()) {
		t.Fatalf("rate limit should be transient")
	}
	if IsTransient(permanentErr()) {
		t.Fatalf("permanent should not be transient")
	}
	if IsTransient(&Error{Kind: KindInvalidResponse, Err: fmt.Errorf("x")}) {
		t.Fatalf("invalid response should not be transient")
	}
	if IsTransient(&Error{Kind: KindContentExhausted, Err: fmt.Errorf("x")}) {
		t.Fatalf("content exhausted should not be transient")
	}
}
