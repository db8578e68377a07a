// Package compcache memoizes block compilation by content hash.
//
// The cache wraps an arbitrary compile function. Keys are ir.ContentHash
// values, which are deliberately coarse: blocks whose hashes collide are
// treated as the same block. Eviction is least-recently-used.
//
// Compilation runs outside the cache lock. By default two callers racing on
// the same cold block both compile; the first insert wins and each caller
// gets the bytes it compiled. WithCoalescing makes racing callers share one
// compile instead.
package compcache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/vmtier/internal/ir"
)

// CompileFunc turns a block into code bytes.
type CompileFunc func(*ir.Block) ([]byte, error)

// Default configuration values.
const (
	DefaultMaxEntries   = 10000
	DefaultHitThreshold = 3
)

// Config describes the cache limits.
type Config struct {
	MaxEntries   int  `json:"max_entries"`
	HitThreshold int  `json:"hit_threshold"`
	Warmup       bool `json:"warmup"`
	Coalesce     bool `json:"coalesce"`
}

// Stats holds cache counters.
type Stats struct {
	Hits             uint64        `json:"hits"`
	Misses           uint64        `json:"misses"`
	Evictions        uint64        `json:"evictions"`
	Compilations     uint64        `json:"compilations"`
	CompileFailures  uint64        `json:"compile_failures"`
	TotalCompileTime time.Duration `json:"total_compile_time_ns"`
	Entries          int           `json:"entries"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	startPC     ir.GuestAddr
	code        []byte
	accessCount uint64
	compiledAt  time.Time
	compileTime time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithHitThreshold sets the access count below which Optimize drops entries.
func WithHitThreshold(n int) Option {
	return func(c *Cache) {
		c.cfg.HitThreshold = n
	}
}

// WithWarmup enables or disables Warmup.
func WithWarmup(enabled bool) Option {
	return func(c *Cache) {
		c.cfg.Warmup = enabled
	}
}

// WithCoalescing makes concurrent misses on one hash share a single compile.
func WithCoalescing() Option {
	return func(c *Cache) {
		c.cfg.Coalesce = true
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// Cache is a content-hash keyed memoization cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries lru.BasicLRU[ir.BlockHash, *entry]
	stats   Stats

	cfg    Config
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a cache holding at most maxEntries compiled blocks.
// maxEntries below 1 is treated as 1.
func New(maxEntries int, opts ...Option) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &Cache{
		entries: lru.NewBasicLRU[ir.BlockHash, *entry](maxEntries),
		cfg: Config{
			MaxEntries:   maxEntries,
			HitThreshold: DefaultHitThreshold,
			Warmup:       true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// GetOrCompile returns the code for b, compiling it on a miss.
//
// A hit bumps the entry's access count and LRU position. A compile failure
// is returned as is and nothing is cached, so the next call retries.
// The returned slice is a copy the caller may keep.
func (c *Cache) GetOrCompile(b *ir.Block, compile CompileFunc) ([]byte, error) {
	h := ir.ContentHash(b)

	c.mu.Lock()
	if e, ok := c.entries.Get(h); ok {
		e.accessCount++
		c.stats.Hits++
		code := cloneBytes(e.code)
		c.mu.Unlock()
		return code, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	if !c.cfg.Coalesce {
		code, err := c.compileAndInsert(h, b, compile, 1)
		if err != nil {
			return nil, err
		}
		return cloneBytes(code), nil
	}

	v, err, shared := c.group.Do(string(h), func() (any, error) {
		return c.compileAndInsert(h, b, compile, 1)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("compile coalesced", "hash", h.Short(), "pc", b.StartPC.String())
	}
	return cloneBytes(v.([]byte)), nil
}

// compileAndInsert runs compile outside the lock and stores the result with
// the given initial access count. If another caller inserted the same hash
// meanwhile, the resident entry is kept and this caller's bytes are returned.
func (c *Cache) compileAndInsert(h ir.BlockHash, b *ir.Block, compile CompileFunc, access uint64) ([]byte, error) {
	start := time.Now()
	code, err := compile(b)
	elapsed := time.Since(start)
	if err != nil {
		c.mu.Lock()
		c.stats.CompileFailures++
		c.mu.Unlock()
		return nil, err
	}
	stored := cloneBytes(code)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Compilations++
	c.stats.TotalCompileTime += elapsed

	if c.entries.Contains(h) {
		return code, nil
	}
	evicted := c.entries.Add(h, &entry{
		startPC:     b.StartPC,
		code:        stored,
		accessCount: access,
		compiledAt:  start,
		compileTime: elapsed,
	})
	if evicted {
		c.stats.Evictions++
		c.logger.Debug("compile cache eviction", "entries", c.entries.Len())
	}
	return code, nil
}

// GetOrCompileBatch runs GetOrCompile over blocks in order and stops at the
// first failure.
func (c *Cache) GetOrCompileBatch(blocks []*ir.Block, compile CompileFunc) ([][]byte, error) {
	out := make([][]byte, 0, len(blocks))
	for _, b := range blocks {
		code, err := c.GetOrCompile(b, compile)
		if err != nil {
			return out, fmt.Errorf("block %s: %w", b.StartPC, err)
		}
		out = append(out, code)
	}
	return out, nil
}

// Warmup compiles blocks that are not yet cached. Hit and miss counters are
// not touched and new entries start with an access count of zero, so an
// unused warm entry is the first thing Optimize drops. Compile failures are
// skipped and reported together. Returns the number of blocks compiled.
func (c *Cache) Warmup(blocks []*ir.Block, compile CompileFunc) (int, error) {
	if !c.cfg.Warmup {
		return 0, nil
	}
	var errs []error
	compiled := 0
	for _, b := range blocks {
		h := ir.ContentHash(b)
		c.mu.Lock()
		present := c.entries.Contains(h)
		c.mu.Unlock()
		if present {
			continue
		}
		if _, err := c.compileAndInsert(h, b, compile, 0); err != nil {
			errs = append(errs, fmt.Errorf("warmup block %s: %w", b.StartPC, err))
			continue
		}
		compiled++
	}
	if compiled > 0 {
		c.logger.Info("compile cache warmed", "blocks", compiled, "failed", len(errs))
	}
	return compiled, errors.Join(errs...)
}

// Optimize drops every entry accessed fewer than HitThreshold times,
// regardless of LRU position. Returns the number removed.
func (c *Cache) Optimize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, h := range c.entries.Keys() {
		e, ok := c.entries.Peek(h)
		if !ok {
			continue
		}
		if e.accessCount < uint64(c.cfg.HitThreshold) {
			c.entries.Remove(h)
			removed++
		}
	}
	return removed
}

// Get returns a copy of the code stored under h without touching counters
// or LRU order.
func (c *Cache) Get(h ir.BlockHash) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(h)
	if !ok {
		return nil, false
	}
	return cloneBytes(e.code), true
}

// AccessCount returns the hit count recorded for h.
func (c *Cache) AccessCount(h ir.BlockHash) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(h)
	if !ok {
		return 0, false
	}
	return e.accessCount, true
}

// Invalidate removes the entry for h.
func (c *Cache) Invalidate(h ir.BlockHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(h)
}

// InvalidateBlock removes the entry for b.
func (c *Cache) InvalidateBlock(b *ir.Block) bool {
	return c.Invalidate(ir.ContentHash(b))
}

// InvalidateAddr removes every entry compiled from a block starting at pc.
// Returns the number removed.
func (c *Cache) InvalidateAddr(pc ir.GuestAddr) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, h := range c.entries.Keys() {
		if e, ok := c.entries.Peek(h); ok && e.startPC == pc {
			c.entries.Remove(h)
			removed++
		}
	}
	return removed
}

// CachedHashes returns the resident keys.
func (c *Cache) CachedHashes() []ir.BlockHash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Clear drops all entries and resets statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.stats = Stats{}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}

// HitRate returns the lifetime hit rate.
func (c *Cache) HitRate() float64 {
	return c.Stats().HitRate()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
