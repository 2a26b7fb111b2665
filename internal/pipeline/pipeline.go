package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"sheetgen/internal/cache"
	"sheetgen/internal/cellstore"
	"sheetgen/internal/imagestore"
	"sheetgen/internal/promptgen"
	"sheetgen/internal/provider"
	"sheetgen/internal/sheet"
	"sheetgen/internal/websearch"
)

// ClientFactory builds the provider client for a run. Injectable so
// tests can substitute a fake provider.
type ClientFactory func(cfg provider.ModelConfig) (provider.Client, error)

type Config struct {
	Concurrency   int           // scheduler window, default 5, capped at 10
	ExampleWindow int           // few-shot window size, default 5
	CacheTTL      time.Duration // 0 = per-tier defaults
	CallTimeout   time.Duration // 0 = provider.DefaultTimeout
	APIKey        string
	MaxTokens     int     // default 500
	Temperature   float32 // default 0.7

	// RetryAttempts > 1 wraps the provider in transient-error retry.
	// Off by default: the historical pipeline did not retry.
	RetryAttempts int
	ProviderRPS   float64
	ProviderBurst int
}

// Runner is the pipeline façade: the single entry point the transport
// layer drives. It composes the offset resolver, the batch scheduler,
// the unit generator, the cache, and the external collaborators.
type Runner struct {
	repo      cellstore.Repository
	cache     *cache.Cache
	search    websearch.Searcher
	images    imagestore.Store
	newClient ClientFactory
	cfg       Config

	// inflight enforces at most one generation per (column, row) within
	// this process. Replicas are not coordinated; see package docs.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewRunner(repo cellstore.Repository, c *cache.Cache, search websearch.Searcher, images imagestore.Store, cfg Config) *Runner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	r := &Runner{
		repo:     repo,
		cache:    c,
		search:   search,
		images:   images,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
	r.newClient = r.defaultClientFactory
	return r
}

// SetClientFactory overrides provider construction. Intended for tests.
func (r *Runner) SetClientFactory(f ClientFactory) {
	if f != nil {
		r.newClient = f
	}
}

func (r *Runner) defaultClientFactory(cfg provider.ModelConfig) (provider.Client, error) {
	cli, err := provider.New(cfg)
	if err != nil {
		return nil, err
	}
	var c provider.Client = cli
	if r.cfg.ProviderRPS > 0 {
		c = provider.Limit(c, r.cfg.ProviderRPS, r.cfg.ProviderBurst)
	}
	if r.cfg.RetryAttempts > 1 {
		c = provider.Retry(c, r.cfg.RetryAttempts, 0)
	}
	return c, nil
}

type GenerateOptions struct {
	Limit          int
	Offset         int
	ResumeFromLast bool
	Stream         bool
	Concurrency    int // 0 = Config.Concurrency
}

// Generate fills the dynamic column's cells and returns the lazy event
// sequence. Pre-flight failures (unknown column, unreadable process or
// cells, provider construction) are fatal and returned synchronously
// before any generation starts; per-cell failures are events. The
// channel closes when every requested row reached a terminal state or
// the context was canceled.
func (r *Runner) Generate(ctx context.Context, columnID string, opts GenerateOptions) (<-chan Event, error) {
	col, err := r.repo.GetColumn(ctx, columnID)
	if err != nil {
		return nil, fmt.Errorf("read column: %w", err)
	}
	if col.Kind != sheet.KindDynamic || col.Process == nil {
		return nil, fmt.Errorf("column %s is not generatable: no process attached", columnID)
	}
	proc := *col.Process

	cells, err := r.repo.ReadCells(ctx, columnID)
	if err != nil {
		return nil, fmt.Errorf("read cells: %w", err)
	}

	offset := opts.Offset
	if opts.ResumeFromLast {
		offset = ComputeOffset(cells)
	}

	total, err := r.repo.RowCount(ctx, col.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	limit := opts.Limit
	if limit <= 0 || offset+limit > total {
		limit = total - offset
	}
	if limit < 0 {
		limit = 0
	}

	refNames := make([]string, 0, len(proc.ReferencedIDs))
	for _, refID := range proc.ReferencedIDs {
		ref, err := r.repo.GetColumn(ctx, refID)
		if err != nil {
			return nil, fmt.Errorf("read referenced column %s: %w", refID, err)
		}
		refNames = append(refNames, ref.Name)
	}

	rows, err := r.repo.RowData(ctx, col.DatasetID, refNames, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("read row data: %w", err)
	}

	client, err := r.newClient(r.modelConfig(proc))
	if err != nil {
		return nil, fmt.Errorf("build provider client: %w", err)
	}

	byRow := make(map[int]sheet.Cell, len(cells))
	for _, cell := range cells {
		byRow[cell.RowIndex] = cell
	}

	window := newExampleWindow(r.cfg.ExampleWindow)
	unit := &unitGenerator{cache: r.cache, client: client, ttl: r.cfg.CacheTTL}

	tasks := make([]Task, 0, limit)
	for i := 0; i < limit; i++ {
		rowIndex := offset + i
		// Validated cells are human-confirmed and never regenerated,
		// even on a full (non-resuming) run.
		if byRow[rowIndex].Validated {
			continue
		}
		tasks = append(tasks, r.cellTask(col, proc, rowIndex, rows[i], window, unit, opts.Stream))
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.cfg.Concurrency
	}
	sched := NewScheduler(concurrency)

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("pipeline: close provider client: %v", err)
			}
		}()
		select {
		case out <- Event{Column: &col, RowIndex: -1}:
		case <-ctx.Done():
			return
		}
		sched.Run(ctx, tasks, out)
	}()
	return out, nil
}

func (r *Runner) modelConfig(proc sheet.Process) provider.ModelConfig {
	return provider.ModelConfig{
		Provider:    proc.ModelProvider,
		Model:       proc.ModelName,
		EndpointURL: proc.EndpointURL,
		APIKey:      r.cfg.APIKey,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Timeout:     r.cfg.CallTimeout,
	}
}

func (r *Runner) cellTask(col sheet.Column, proc sheet.Process, rowIndex int, rowData map[string]string, window *exampleWindow, unit *unitGenerator, stream bool) Task {
	return Task{
		RowIndex: rowIndex,
		Run: func(ctx context.Context, emitPartial func(Event)) Event {
			guardKey := fmt.Sprintf("%s:%d", col.ID, rowIndex)
			if !r.acquire(guardKey) {
				return Event{RowIndex: rowIndex, Done: true,
					Err: fmt.Errorf("a generation is already in flight for row %d", rowIndex)}
			}
			defer r.release(guardKey)

			if err := r.repo.WriteCell(ctx, sheet.Cell{ColumnID: col.ID, RowIndex: rowIndex, Generating: true}); err != nil {
				log.Printf("pipeline: mark row %d generating: %v", rowIndex, err)
			}

			var sources []sheet.Source
			if proc.SearchEnabled && r.search != nil {
				if query, err := promptgen.Materialize(promptgen.Input{Instruction: proc.Instruction, RowData: rowData}); err == nil {
					found, err := r.search.Search(ctx, query, 5)
					if err != nil {
						log.Printf("pipeline: web search for row %d failed: %v", rowIndex, err)
					} else {
						sources = found
					}
				}
			}

			examples := window.snapshot()
			prompt, err := promptgen.Materialize(promptgen.Input{
				Instruction: proc.Instruction,
				RowData:     rowData,
				Sources:     sources,
				Examples:    examples,
			})
			if err != nil {
				return r.failCell(ctx, col.ID, rowIndex, err)
			}

			req := unitRequest{
				prompt:   prompt,
				cacheKey: r.cacheKey(proc, rowData, examples),
				cfg:      r.modelConfig(proc),
				stream:   stream,
			}

			var res unitResult
			if proc.ImageOutput {
				res, err = unit.runImage(ctx, req, r.images, col.ID, rowIndex)
			} else {
				res, err = unit.run(ctx, req, func(accumulated string) {
					emitPartial(Event{RowIndex: rowIndex, Value: accumulated})
				})
			}
			if err != nil {
				return r.failCell(ctx, col.ID, rowIndex, err)
			}

			// Cache hits feed the window too: the few-shot examples reflect
			// accepted outputs regardless of where they came from, and keys
			// derived on a replayed run line up with the original run's.
			if !proc.ImageOutput {
				window.add(cache.Example{Input: summarizeRow(rowData), Output: res.value})
			}

			ev := Event{
				RowIndex:  rowIndex,
				Value:     res.value,
				Done:      true,
				Sources:   sources,
				FromCache: res.fromCache,
			}
			// A failed write must not swallow a successful generation:
			// the value still goes to the caller, the storage failure
			// rides along separately.
			if perr := r.repo.WriteCell(ctx, sheet.Cell{
				ColumnID: col.ID,
				RowIndex: rowIndex,
				Value:    res.value,
				Sources:  sources,
			}); perr != nil {
				log.Printf("pipeline: persist row %d failed: %v", rowIndex, perr)
				ev.PersistErr = perr
			}
			return ev
		},
	}
}

func (r *Runner) failCell(ctx context.Context, columnID string, rowIndex int, cause error) Event {
	if err := r.repo.WriteCell(ctx, sheet.Cell{
		ColumnID: columnID,
		RowIndex: rowIndex,
		Error:    cause.Error(),
	}); err != nil {
		log.Printf("pipeline: persist error for row %d failed: %v", rowIndex, err)
	}
	return Event{RowIndex: rowIndex, Done: true, Err: cause}
}

func (r *Runner) cacheKey(proc sheet.Process, rowData map[string]string, examples []cache.Example) string {
	row := make(map[string]any, len(rowData))
	for k, v := range rowData {
		row[k] = v
	}
	req := cache.KeyRequest{
		ModelName:      proc.ModelName,
		ModelProvider:  proc.ModelProvider,
		EndpointURL:    proc.EndpointURL,
		Instruction:    proc.Instruction,
		RowData:        row,
		Examples:       examples,
		UsesSources:    proc.SearchEnabled,
		ProcessVersion: proc.Version,
	}
	if r.cache != nil {
		return r.cache.Key(req)
	}
	return cache.DeriveKey(req, false)
}

func (r *Runner) acquire(key string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Runner) release(key string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, key)
}

func summarizeRow(rowData map[string]string) string {
	if len(rowData) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rowData))
	for k := range rowData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+rowData[k])
	}
	return strings.Join(parts, "; ")
}
