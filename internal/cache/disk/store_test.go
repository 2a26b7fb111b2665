package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTripAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	s, err := NewStore(Config{Path: path, FlushEvery: 1})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("k1", "v1", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok := s.Get("k1"); !ok || v != "v1" {
		t.Fatalf("get: ok=%v v=%q", ok, v)
	}

	s2, err := NewStore(Config{Path: path, FlushEvery: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok := s2.Get("k1"); !ok || v != "v1" {
		t.Fatalf("get after reload: ok=%v v=%q", ok, v)
	}
}

func TestStoreSkipsCorruptRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	content := `{"key":"good","value":"kept","created_at":"2026-01-01T00:00:00Z","ttl":0}
this line is not json
{"key":"also-good","value":"kept too","created_at":"2026-01-01T00:00:00Z","ttl":0}
{"broken":
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := NewStore(Config{Path: path})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if v, ok := s.Get("good"); !ok || v != "kept" {
		t.Fatalf("good record lost: ok=%v v=%q", ok, v)
	}
	if v, ok := s.Get("also-good"); !ok || v != "kept too" {
		t.Fatalf("record after corruption lost: ok=%v v=%q", ok, v)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d, want 2", s.Len())
	}
}

func TestStoreSkipsOversizedCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	var buf []byte
	buf = append(buf, `{"key":"before","value":"kept","created_at":"2026-01-01T00:00:00Z","ttl":0}`...)
	buf = append(buf, '\n')
	garbage := make([]byte, maxRecordBytes+1024*1024)
	for i := range garbage {
		garbage[i] = 'x'
	}
	buf = append(buf, garbage...)
	buf = append(buf, '\n')
	buf = append(buf, `{"key":"after","value":"kept too","created_at":"2026-01-01T00:00:00Z","ttl":0}`...)
	buf = append(buf, '\n')
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := NewStore(Config{Path: path})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if v, ok := s.Get("before"); !ok || v != "kept" {
		t.Fatalf("record before oversized line lost: ok=%v v=%q", ok, v)
	}
	if v, ok := s.Get("after"); !ok || v != "kept too" {
		t.Fatalf("record after oversized line lost: ok=%v v=%q", ok, v)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d, want 2", s.Len())
	}
}

func TestStoreFlushDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	s, err := NewStore(Config{Path: path, FlushEvery: 3})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := s.Set("a", "1", 0); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.Set("b", "2", 0); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file before threshold, stat err=%v", err)
	}

	if err := s.Set("c", "3", 0); err != nil {
		t.Fatalf("set c: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected flush at threshold: %v", err)
	}
}

func TestStoreCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	s, err := NewStore(Config{Path: path, FlushEvery: 100})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("pending", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewStore(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := s2.Get("pending"); !ok {
		t.Fatalf("pending write lost after close")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	now := time.Now()
	s, err := NewStore(Config{
		Path: filepath.Join(t.TempDir(), "cache.jsonl"),
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("k", "v", 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = now.Add(time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected miss after ttl expiry")
	}
}

func TestStoreEvictsLeastRecentlyAccessed(t *testing.T) {
	now := time.Now()
	s, err := NewStore(Config{
		Path:       filepath.Join(t.TempDir(), "cache.jsonl"),
		MaxEntries: 2,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	mustSet := func(k, v string) {
		t.Helper()
		if err := s.Set(k, v, 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	mustSet("a", "1")
	now = now.Add(time.Second)
	mustSet("b", "2")
	now = now.Add(time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatalf("touch a failed")
	}
	now = now.Add(time.Second)
	mustSet("c", "3")

	if _, ok := s.Get("b"); ok {
		t.Fatalf("expected b evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Fatalf("expected a to remain")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("expected c to remain")
	}
}

func TestStoreSweepDropsExpired(t *testing.T) {
	now := time.Now()
	s, err := NewStore(Config{
		Path: filepath.Join(t.TempDir(), "cache.jsonl"),
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set("short", "v", time.Second); err != nil {
		t.Fatalf("set short: %v", err)
	}
	if err := s.Set("long", "v", time.Hour); err != nil {
		t.Fatalf("set long: %v", err)
	}

	now = now.Add(time.Minute)
	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d, want 1", s.Len())
	}
}
