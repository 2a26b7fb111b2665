package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompatClient calls any OpenAI-compatible chat-completions API:
// OpenAI, Groq, Ollama, vLLM, or a custom gateway behind a base URL.
type OpenAICompatClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAICompatClient{
		// Per-call deadlines come from the request context; the client
		// itself carries no timeout so streams are not cut off mid-read.
		http:    &http.Client{},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

func (c *OpenAICompatClient) Name() string { return "openai-compat:" + c.baseURL }
func (c *OpenAICompatClient) Close() error { return nil }

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAICompatClient) Complete(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	resp, err := c.post(ctx, "/chat/completions", chatReq{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, cfg)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindInvalidResponse, Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}

// CompleteStream reads the SSE response line by line, forwarding each
// content delta, and returns the accumulated final text.
func (c *OpenAICompatClient) CompleteStream(ctx context.Context, prompt string, cfg ModelConfig, onChunk func(delta string)) (string, error) {
	resp, err := c.post(ctx, "/chat/completions", chatReq{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      true,
	}, cfg)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var acc strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk chatStreamResp
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return "", classifyTransport(ctx.Err())
		}
		return "", classifyTransport(err)
	}
	if acc.Len() == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("empty stream")}
	}
	return acc.String(), nil
}

type imageReq struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageResp struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *OpenAICompatClient) GenerateImage(ctx context.Context, prompt string, cfg ModelConfig) ([]byte, error) {
	resp, err := c.post(ctx, "/images/generations", imageReq{
		Model:          cfg.Model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
	}, cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out imageResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("no image data in response")}
	}
	raw, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}
	return raw, nil
}

func (c *OpenAICompatClient) post(ctx context.Context, path string, body any, cfg ModelConfig) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		cancel()
		return nil, &Error{Kind: KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, string(raw))
	}
	// The cancel func travels with the body: the deadline stays armed
	// until the caller finishes reading the (possibly streamed) response.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
