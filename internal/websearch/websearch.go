package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sheetgen/internal/sheet"
)

// Searcher returns ranked text snippets with source URIs for a query.
// A nil Searcher on the pipeline disables augmentation.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]sheet.Source, error)
}

// HTTPSearcher calls a JSON search endpoint (Serper-style POST API).
type HTTPSearcher struct {
	http     *http.Client
	endpoint string
	apiKey   string
}

func NewHTTPSearcher(endpoint, apiKey string) (*HTTPSearcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("websearch: endpoint is required")
	}
	return &HTTPSearcher{
		http:     &http.Client{Timeout: 15 * time.Second},
		endpoint: endpoint,
		apiKey:   apiKey,
	}, nil
}

type searchReq struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
}

type searchResp struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]sheet.Source, error) {
	if limit <= 0 {
		limit = 5
	}
	b, _ := json.Marshal(searchReq{Query: query, Num: limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("websearch: unexpected status %s: %s", resp.Status, string(raw))
	}

	var out searchResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	sources := make([]sheet.Source, 0, limit)
	for _, item := range out.Organic {
		if item.Link == "" {
			continue
		}
		sources = append(sources, sheet.Source{
			URI:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
		})
		if len(sources) >= limit {
			break
		}
	}
	return sources, nil
}
