package pipeline

import (
	"context"
)

const (
	// DefaultConcurrency is the sliding-window size unless configured.
	DefaultConcurrency = 5
	// MaxConcurrency is the hard ceiling regardless of configuration.
	MaxConcurrency = 10
)

// Task is one schedulable cell generation. Run returns the terminal
// event; partial (streaming) progress goes through emitPartial.
type Task struct {
	RowIndex int
	Run      func(ctx context.Context, emitPartial func(Event)) Event
}

// Scheduler runs tasks through a sliding window of at most `limit`
// concurrent generators. Terminal events are forwarded in completion
// order, not row order: callers needing row order must reorder
// themselves (results are persisted per-row regardless of yield order).
type Scheduler struct {
	limit int
}

// NewScheduler clamps limit into [1, MaxConcurrency]; limit <= 0 means
// DefaultConcurrency. The limit is explicit state of this scheduler, not
// a process-wide constant.
func NewScheduler(limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if limit > MaxConcurrency {
		limit = MaxConcurrency
	}
	return &Scheduler{limit: limit}
}

func (s *Scheduler) Limit() int { return s.limit }

// Run dispatches tasks and forwards every event to out. Cancellation is
// observed between dispatch decisions: once ctx is done no new task
// starts, while in-flight tasks finish naturally (they receive the same
// ctx, so provider calls that honor it abort cooperatively). Run returns
// after every dispatched task has completed; it never closes out.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, out chan<- Event) {
	results := make(chan Event)
	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	next := 0
	inflight := 0
	for {
		for inflight < s.limit && next < len(tasks) && ctx.Err() == nil {
			task := tasks[next]
			next++
			inflight++
			go func(t Task) {
				results <- t.Run(ctx, emit)
			}(task)
		}
		if inflight == 0 {
			return
		}
		// Forward each completion as it lands and free the slot; the
		// completed task's closure (and its buffers) is unreferenced
		// from here on.
		ev := <-results
		inflight--
		emit(ev)
	}
}
