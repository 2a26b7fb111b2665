package pipeline

import (
	"fmt"
	"testing"

	"sheetgen/internal/cache"
)

func TestExampleWindowKeepsMostRecent(t *testing.T) {
	w := newExampleWindow(3)
	for i := 0; i < 5; i++ {
		w.add(cache.Example{Input: fmt.Sprintf("in-%d", i), Output: fmt.Sprintf("out-%d", i)})
	}

	got := w.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, ex := range got {
		want := fmt.Sprintf("in-%d", i+2)
		if ex.Input != want {
			t.Fatalf("item %d = %q, want %q", i, ex.Input, want)
		}
	}
}

func TestExampleWindowSnapshotIsACopy(t *testing.T) {
	w := newExampleWindow(5)
	w.add(cache.Example{Input: "a", Output: "b"})

	snap := w.snapshot()
	snap[0].Output = "mutated"

	if got := w.snapshot()[0].Output; got != "b" {
		t.Fatalf("window mutated through snapshot: %q", got)
	}
}
