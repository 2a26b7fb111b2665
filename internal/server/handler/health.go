package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"sheetgen/internal/provider"
)

type HealthHandler struct {
	apiKey    string
	newClient func(cfg provider.ModelConfig) (provider.Client, error)
}

func NewHealthHandler(apiKey string) *HealthHandler {
	return &HealthHandler{apiKey: apiKey, newClient: provider.New}
}

func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type testConnectionRequest struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	EndpointURL string `json:"endpointUrl,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
}

type testConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// HandleTestConnection fires a minimal completion against the configured
// provider so the UI can verify credentials and reachability before a
// real run.
func (h *HealthHandler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = h.apiKey
	}
	cfg := provider.ModelConfig{
		Provider:    req.Provider,
		Model:       req.Model,
		EndpointURL: req.EndpointURL,
		APIKey:      apiKey,
		MaxTokens:   8,
		Timeout:     15 * time.Second,
	}

	w.Header().Set("Content-Type", "application/json")
	resp := testConnectionResponse{OK: true}

	cli, err := h.newClient(cfg)
	if err == nil {
		defer cli.Close()
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		_, err = cli.Complete(ctx, "Reply with the single word: ok", cfg)
	}
	if err != nil {
		resp = testConnectionResponse{
			OK:    false,
			Error: err.Error(),
			Kind:  string(provider.KindOf(err)),
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
