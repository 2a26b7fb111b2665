package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAICompatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req chatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "world"}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-key")
	got, err := c.Complete(context.Background(), "hello", ModelConfig{Model: "m"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenAICompatCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":""}}]}`,
			`data: [DONE]`,
			`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		}
		for _, line := range chunks {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "")
	var deltas []string
	got, err := c.CompleteStream(context.Background(), "p", ModelConfig{Model: "m"}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("final = %q", got)
	}
	if strings.Join(deltas, "|") != "Hel|lo" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestOpenAICompatStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindPermanent},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadRequest, KindPermanent},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusRequestTimeout, KindTimeout},
	}
	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", status)
		}))
		c := NewOpenAICompatClient(srv.URL, "")
		_, err := c.Complete(context.Background(), "p", ModelConfig{Model: "m"})
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if got := KindOf(err); got != tc.kind {
			t.Fatalf("status %d: kind = %s, want %s", status, got, tc.kind)
		}
	}
}

func TestOpenAICompatEmptyChoicesIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "")
	_, err := c.Complete(context.Background(), "p", ModelConfig{Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := KindOf(err); got != KindInvalidResponse {
		t.Fatalf("kind = %s, want invalid_response", got)
	}
}

func TestOpenAICompatDefaultBaseURL(t *testing.T) {
	c := NewOpenAICompatClient("", "")
	if c.baseURL != defaultOpenAIBaseURL {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	c = NewOpenAICompatClient("http://localhost:11434/v1/", "")
	if c.baseURL != "http://localhost:11434/v1" {
		t.Fatalf("trailing slash kept: %q", c.baseURL)
	}
}
