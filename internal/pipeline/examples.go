package pipeline

import (
	"sync"

	"sheetgen/internal/cache"
)

// exampleWindow holds the most recent K accepted outputs of a run, fed
// back into later prompts as few-shot examples. Bounded on purpose: the
// unbounded accumulate-everything variant grows the prompt without limit
// over long runs.
type exampleWindow struct {
	mu    sync.Mutex
	max   int
	items []cache.Example
}

func newExampleWindow(max int) *exampleWindow {
	if max <= 0 {
		max = 5
	}
	return &exampleWindow{max: max}
}

func (w *exampleWindow) add(ex cache.Example) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, ex)
	if len(w.items) > w.max {
		w.items = w.items[len(w.items)-w.max:]
	}
}

func (w *exampleWindow) snapshot() []cache.Example {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]cache.Example, len(w.items))
	copy(out, w.items)
	return out
}
