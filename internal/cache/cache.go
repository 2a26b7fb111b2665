package cache

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sheetgen/internal/cache/disk"
	"sheetgen/internal/cache/memory"
)

type Options struct {
	MemoryEntries int           // default 10000
	MemoryTTL     time.Duration // default 1h
	DiskTTL       time.Duration // default 72h
	SweepInterval time.Duration // default 10m; <0 disables the sweeper

	// ScopeByProcessVersion folds the process version into derived keys,
	// so editing a process stops serving its older cached answers. Off by
	// default: the historical behavior is to keep serving them.
	ScopeByProcessVersion bool
}

type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Size   int   `json:"size"`
}

// Cache is the two-tier generation cache: a bounded in-memory LRU in
// front of a durable disk store. Disk hits are promoted into memory.
// Safe for concurrent use within a single process; replicas sharing one
// store path are not coordinated against each other.
type Cache struct {
	mem  *memory.LRUTTL[string, string]
	disk *disk.Store
	opts Options

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64

	sweepStop chan struct{}
	sweepOnce sync.Once
	closeOnce sync.Once
}

// New builds the two-tier cache. diskStore may be nil, which leaves only
// the in-memory tier (used in tests and cache-disabled deployments).
func New(opts Options, diskStore *disk.Store) *Cache {
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = 10000
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = time.Hour
	}
	if opts.DiskTTL <= 0 {
		opts.DiskTTL = 72 * time.Hour
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	c := &Cache{
		mem:       memory.NewLRUTTL[string, string](opts.MemoryEntries, opts.MemoryTTL),
		disk:      diskStore,
		opts:      opts,
		sweepStop: make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		c.startSweeper()
	}
	return c
}

// ScopeByProcessVersion reports the configured key-scoping decision.
func (c *Cache) ScopeByProcessVersion() bool { return c.opts.ScopeByProcessVersion }

// Key derives the cache key for a request under this cache's scoping.
func (c *Cache) Key(req KeyRequest) string {
	return DeriveKey(req, c.opts.ScopeByProcessVersion)
}

func (c *Cache) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	if v, ok := c.mem.Get(key); ok {
		c.hits.Add(1)
		return v, true
	}
	if c.disk != nil {
		if v, ok := c.disk.Get(key); ok {
			// Promote so the next read stays off disk.
			c.mem.SetTTL(key, v, c.opts.MemoryTTL)
			c.hits.Add(1)
			return v, true
		}
	}
	c.misses.Add(1)
	return "", false
}

// Set writes both tiers. ttl <= 0 applies each tier's default; the disk
// write is debounced by the store (see disk.Config.FlushEvery).
func (c *Cache) Set(key, value string, ttl time.Duration) {
	if c == nil {
		return
	}
	memTTL := ttl
	if memTTL <= 0 || memTTL > c.opts.MemoryTTL {
		memTTL = c.opts.MemoryTTL
	}
	c.mem.SetTTL(key, value, memTTL)
	if c.disk != nil {
		diskTTL := ttl
		if diskTTL <= 0 {
			diskTTL = c.opts.DiskTTL
		}
		if err := c.disk.Set(key, value, diskTTL); err != nil {
			log.Printf("cache: disk set failed: %v", err)
		}
	}
	c.sets.Add(1)
}

func (c *Cache) Has(key string) bool {
	if c == nil {
		return false
	}
	if c.mem.Has(key) {
		return true
	}
	return c.disk != nil && c.disk.Has(key)
}

func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	size := c.mem.Len()
	if c.disk != nil {
		size = c.disk.Len()
	}
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Size:   size,
	}
}

// Flush forces the disk tier to persist pending writes.
func (c *Cache) Flush() error {
	if c == nil || c.disk == nil {
		return nil
	}
	return c.disk.Flush()
}

// Close stops the sweeper and flushes the disk tier.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		close(c.sweepStop)
		if c.disk != nil {
			err = c.disk.Close()
		}
	})
	return err
}

func (c *Cache) startSweeper() {
	c.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.opts.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-c.sweepStop:
					return
				case <-ticker.C:
					c.mem.PurgeExpired()
					if c.disk != nil {
						c.disk.Sweep()
					}
				}
			}
		}()
	})
}
