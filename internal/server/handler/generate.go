package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"sheetgen/internal/cache"
	"sheetgen/internal/pipeline"
	"sheetgen/internal/sheet"
)

// GenerateHandler exposes column generation over plain HTTP. The POST
// endpoint streams newline-delimited JSON; each line is one event.
type GenerateHandler struct {
	runner *pipeline.Runner
	cache  *cache.Cache
}

func NewGenerateHandler(runner *pipeline.Runner, c *cache.Cache) *GenerateHandler {
	return &GenerateHandler{runner: runner, cache: c}
}

type generateRequest struct {
	ColumnID    string `json:"columnId"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
	Stream      bool   `json:"stream,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

type eventWire struct {
	Column       *sheet.Column  `json:"column,omitempty"`
	RowIndex     int            `json:"rowIndex"`
	Value        string         `json:"value,omitempty"`
	Done         bool           `json:"done"`
	Error        string         `json:"error,omitempty"`
	PersistError string         `json:"persistError,omitempty"`
	Sources      []sheet.Source `json:"sources,omitempty"`
	FromCache    bool           `json:"fromCache,omitempty"`
}

func toWire(ev pipeline.Event) eventWire {
	return eventWire{
		Column:       ev.Column,
		RowIndex:     ev.RowIndex,
		Value:        ev.Value,
		Done:         ev.Done,
		Error:        ev.ErrorMessage(),
		PersistError: ev.PersistErrorMessage(),
		Sources:      ev.Sources,
		FromCache:    ev.FromCache,
	}
}

// HandleGenerate runs a generation and streams events as NDJSON until
// the run finishes or the client goes away.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ColumnID) == "" {
		http.Error(w, "columnId is required", http.StatusBadRequest)
		return
	}

	events, err := h.runner.Generate(r.Context(), req.ColumnID, pipeline.GenerateOptions{
		Limit:          req.Limit,
		Offset:         req.Offset,
		ResumeFromLast: req.Resume,
		Stream:         req.Stream,
		Concurrency:    req.Concurrency,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(toWire(ev)); err != nil {
			// Client is gone; the run context is r.Context() so the
			// scheduler stops dispatching on its own.
			log.Printf("generate: write event failed: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// HandleCacheStats reports hit/miss counters for operations dashboards.
func (h *GenerateHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "cache disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.cache.Stats()); err != nil {
		log.Printf("cache stats: encode failed: %v", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}
