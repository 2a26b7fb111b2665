package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerClampsLimit(t *testing.T) {
	if got := NewScheduler(0).Limit(); got != DefaultConcurrency {
		t.Fatalf("limit = %d, want default %d", got, DefaultConcurrency)
	}
	if got := NewScheduler(-3).Limit(); got != DefaultConcurrency {
		t.Fatalf("limit = %d, want default %d", got, DefaultConcurrency)
	}
	if got := NewScheduler(50).Limit(); got != MaxConcurrency {
		t.Fatalf("limit = %d, want cap %d", got, MaxConcurrency)
	}
	if got := NewScheduler(3).Limit(); got != 3 {
		t.Fatalf("limit = %d, want 3", got)
	}
}

func TestSchedulerNeverExceedsWindow(t *testing.T) {
	const limit = 5
	const n = 10

	var inflight, peak atomic.Int64
	release := make(chan struct{})

	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		row := i
		tasks = append(tasks, Task{
			RowIndex: row,
			Run: func(ctx context.Context, _ func(Event)) Event {
				cur := inflight.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				<-release
				inflight.Add(-1)
				return Event{RowIndex: row, Value: fmt.Sprintf("row-%d", row), Done: true}
			},
		})
	}

	out := make(chan Event, n)
	done := make(chan struct{})
	go func() {
		NewScheduler(limit).Run(context.Background(), tasks, out)
		close(out)
		close(done)
	}()

	// Let the first window fill, then let everything finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-done

	if p := peak.Load(); p > limit {
		t.Fatalf("peak concurrency %d exceeds window %d", p, limit)
	}

	seen := make(map[int]int)
	for ev := range out {
		if !ev.Done {
			t.Fatalf("unexpected non-terminal event: %+v", ev)
		}
		seen[ev.RowIndex]++
		if want := fmt.Sprintf("row-%d", ev.RowIndex); ev.Value != want {
			t.Fatalf("row %d value = %q, want %q", ev.RowIndex, ev.Value, want)
		}
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct rows, want %d", len(seen), n)
	}
	for row, count := range seen {
		if count != 1 {
			t.Fatalf("row %d yielded %d terminal events, want 1", row, count)
		}
	}
}

func TestSchedulerYieldsInCompletionOrder(t *testing.T) {
	// Row 0 is slow; rows 1 and 2 finish first and must come out first.
	slowStarted := make(chan struct{})
	fastDone := make(chan struct{}, 2)

	tasks := []Task{
		{RowIndex: 0, Run: func(ctx context.Context, _ func(Event)) Event {
			close(slowStarted)
			<-fastDone
			<-fastDone
			return Event{RowIndex: 0, Done: true}
		}},
		{RowIndex: 1, Run: func(ctx context.Context, _ func(Event)) Event {
			<-slowStarted
			fastDone <- struct{}{}
			return Event{RowIndex: 1, Done: true}
		}},
		{RowIndex: 2, Run: func(ctx context.Context, _ func(Event)) Event {
			<-slowStarted
			fastDone <- struct{}{}
			return Event{RowIndex: 2, Done: true}
		}},
	}

	out := make(chan Event, 3)
	NewScheduler(3).Run(context.Background(), tasks, out)
	close(out)

	var order []int
	for ev := range out {
		order = append(order, ev.RowIndex)
	}
	if len(order) != 3 {
		t.Fatalf("got %d events, want 3", len(order))
	}
	if order[2] != 0 {
		t.Fatalf("slow row yielded at position %d, want last; order=%v", indexOf(order, 0), order)
	}
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestSchedulerStopsDispatchingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)

	tasks := make([]Task, 0, 8)
	for i := 0; i < 8; i++ {
		row := i
		tasks = append(tasks, Task{
			RowIndex: row,
			Run: func(ctx context.Context, _ func(Event)) Event {
				started.Add(1)
				if row == 0 {
					cancel()
					wg.Done()
				}
				<-ctx.Done()
				return Event{RowIndex: row, Done: true}
			},
		})
	}

	out := make(chan Event, 8)
	NewScheduler(1).Run(ctx, tasks, out)
	wg.Wait()

	if n := started.Load(); n != 1 {
		t.Fatalf("%d tasks started after cancel, want 1", n)
	}
}
