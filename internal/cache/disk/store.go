package disk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the on-disk form of one cache entry. The store file holds one
// JSON record per line and is rewritten in full on flush, so a crash can
// corrupt at most the tail; corrupt lines are skipped individually on load.
type Record struct {
	Key       string        `json:"key"`
	Value     string        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

type storedEntry struct {
	rec        Record
	accessedAt time.Time
}

type Config struct {
	Path       string
	MaxEntries int
	DefaultTTL time.Duration

	// FlushEvery is the write-debounce threshold: the store file is
	// rewritten after this many Sets. Up to FlushEvery-1 entries can be
	// lost on an unclean shutdown; call Flush or Close to force a write.
	FlushEvery int

	Now func() time.Time
}

// Store is the durable cache tier. All mutation goes through a single
// mutex, so flushes never interleave. It is safe for concurrent use
// within one process only; two processes sharing the same file are not
// coordinated and will clobber each other's flushes.
type Store struct {
	mu sync.Mutex

	path       string
	maxEntries int
	defaultTTL time.Duration
	flushEvery int
	now        func() time.Time

	entries map[string]*storedEntry
	pending int
}

func NewStore(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("disk cache: path is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 72 * time.Hour
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 32
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		path:       path,
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		flushEvery: cfg.FlushEvery,
		now:        cfg.Now,
		entries:    make(map[string]*storedEntry),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// maxRecordBytes caps a single on-disk record line. Longer lines can only
// come from corruption and are dropped on their own.
const maxRecordBytes = 8 * 1024 * 1024

// load reads the store file line by line. A record that fails to parse,
// or a line past the size cap, is dropped on its own; the remaining
// records still load. Corruption never fails the open: a read error
// mid-file keeps whatever parsed before it.
func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	now := s.now()
	skipped := 0
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, dropped, readErr := readRecordLine(r, maxRecordBytes)
		if dropped {
			skipped++
		} else if line := strings.TrimSpace(string(raw)); line != "" {
			var rec Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Key == "" {
				skipped++
			} else if !(rec.TTL > 0 && now.After(rec.CreatedAt.Add(rec.TTL))) {
				s.entries[rec.Key] = &storedEntry{rec: rec, accessedAt: rec.CreatedAt}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Printf("disk cache: stopped loading %s after read error: %v", s.path, readErr)
			break
		}
	}
	if skipped > 0 {
		log.Printf("disk cache: skipped %d unreadable record(s) in %s", skipped, s.path)
	}
	return nil
}

// readRecordLine returns the next line, consuming it in full even when it
// exceeds max. dropped reports that the line was over the cap and its
// bytes were discarded.
func readRecordLine(r *bufio.Reader, max int) (line []byte, dropped bool, err error) {
	for {
		frag, e := r.ReadSlice('\n')
		if !dropped {
			line = append(line, frag...)
			if len(line) > max {
				dropped = true
				line = nil
			}
		}
		if e == bufio.ErrBufferFull {
			continue
		}
		return line, dropped, e
	}
}

func (s *Store) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok {
		return "", false
	}
	now := s.now()
	if s.expiredLocked(ent, now) {
		delete(s.entries, key)
		return "", false
	}
	ent.accessedAt = now
	return ent.rec.Value, true
}

func (s *Store) Has(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.expiredLocked(ent, s.now()) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Set stores a record and flushes the file once the debounce threshold is
// reached. ttl <= 0 means the store default.
func (s *Store) Set(key, value string, ttl time.Duration) error {
	if s == nil {
		return fmt.Errorf("disk cache: store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("disk cache: key is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.entries[key] = &storedEntry{
		rec:        Record{Key: key, Value: value, CreatedAt: now, TTL: ttl},
		accessedAt: now,
	}
	s.evictLocked()
	s.pending++
	if s.pending >= s.flushEvery {
		return s.flushLocked()
	}
	return nil
}

func (s *Store) Delete(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.pending++
	}
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired records and flushes if anything was removed.
func (s *Store) Sweep() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, ent := range s.entries {
		if s.expiredLocked(ent, now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		if err := s.flushLocked(); err != nil {
			log.Printf("disk cache: sweep flush failed: %v", err)
		}
	}
	return removed
}

// Flush rewrites the store file regardless of the debounce counter.
func (s *Store) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close flushes outstanding writes. The store stays usable afterwards but
// callers should treat Close as the end of its lifecycle.
func (s *Store) Close() error {
	return s.Flush()
}

func (s *Store) expiredLocked(ent *storedEntry, now time.Time) bool {
	return ent.rec.TTL > 0 && now.After(ent.rec.CreatedAt.Add(ent.rec.TTL))
}

// evictLocked removes least-recently-accessed entries until the store fits.
func (s *Store) evictLocked() {
	if len(s.entries) <= s.maxEntries {
		return
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li := s.entries[keys[i]].accessedAt
		lj := s.entries[keys[j]].accessedAt
		if li.Equal(lj) {
			return keys[i] < keys[j]
		}
		return li.Before(lj)
	})
	for _, key := range keys {
		if len(s.entries) <= s.maxEntries {
			break
		}
		delete(s.entries, key)
	}
}

func (s *Store) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ent := range s.entries {
		if err := enc.Encode(ent.rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.pending = 0
	return nil
}
