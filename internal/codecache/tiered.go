// Package codecache holds finished machine code in three address-keyed tiers.
//
// L1 is hot and small, L2 warm, L3 cold and large. New code normally lands
// in L3. Repeated lookups promote an entry one tier at a time once its access
// count reaches the tier's threshold. A full tier evicts its highest-scoring
// entry (old and rarely used) and the victim is demoted one tier; only L3
// evictions discard code.
//
// Every tier has its own lock. Cross-tier moves are serialized by a separate
// placement lock, so an address is resident in at most one tier at any time.
// A lookup that misses all tiers is retried once under the placement lock so
// an entry caught mid-move is not reported as a miss.
package codecache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/vmtier/internal/ir"
)

// Tier identifies a cache level.
type Tier uint8

const (
	L1 Tier = iota
	L2
	L3
	numTiers
)

func (t Tier) String() string {
	switch t {
	case L1:
		return "l1"
	case L2:
		return "l2"
	case L3:
		return "l3"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// Default sizing.
const (
	DefaultL1Size            = 256 * 1024
	DefaultL2Size            = 2 * 1024 * 1024
	DefaultL3Size            = 64 * 1024 * 1024
	DefaultHotspotThreshold  = 1000
	DefaultFrequentThreshold = 100
	DefaultL1MaxEntries      = 1000
	DefaultL2MaxEntries      = 10000
)

// Config sizes the tiers. A MaxEntries of zero means unbounded.
type Config struct {
	L1Size            uint64 `json:"l1_size"`
	L2Size            uint64 `json:"l2_size"`
	L3Size            uint64 `json:"l3_size"`
	HotspotThreshold  uint64 `json:"hotspot_threshold"`
	FrequentThreshold uint64 `json:"frequent_threshold"`
	L1MaxEntries      int    `json:"l1_max_entries"`
	L2MaxEntries      int    `json:"l2_max_entries"`
	L3MaxEntries      int    `json:"l3_max_entries"`
}

// DefaultConfig returns the standard tier sizing.
func DefaultConfig() Config {
	return Config{
		L1Size:            DefaultL1Size,
		L2Size:            DefaultL2Size,
		L3Size:            DefaultL3Size,
		HotspotThreshold:  DefaultHotspotThreshold,
		FrequentThreshold: DefaultFrequentThreshold,
		L1MaxEntries:      DefaultL1MaxEntries,
		L2MaxEntries:      DefaultL2MaxEntries,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.L1Size == 0 || c.L2Size == 0 || c.L3Size == 0 {
		return fmt.Errorf("tier sizes must be positive")
	}
	if c.FrequentThreshold > c.HotspotThreshold {
		return fmt.Errorf("frequent_threshold (%d) exceeds hotspot_threshold (%d)", c.FrequentThreshold, c.HotspotThreshold)
	}
	if c.L1MaxEntries < 0 || c.L2MaxEntries < 0 || c.L3MaxEntries < 0 {
		return fmt.Errorf("max entries must not be negative")
	}
	return nil
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for age and recency.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// Cache is the three-tier code cache. Safe for concurrent use.
type Cache struct {
	cfg   Config
	tiers [numTiers]*tier

	// placeMu serializes every operation that adds, removes or moves entries.
	placeMu sync.Mutex

	now    func() time.Time
	logger *slog.Logger
	ctr    counters
}

type counters struct {
	misses      atomic.Uint64
	inserts     atomic.Uint64
	rejected    atomic.Uint64
	removals    atomic.Uint64
	promoteL3L2 atomic.Uint64
	promoteL2L1 atomic.Uint64
	demoteL1L2  atomic.Uint64
	demoteL2L3  atomic.Uint64
	dropped     atomic.Uint64
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint64{
		&c.misses, &c.inserts, &c.rejected, &c.removals,
		&c.promoteL3L2, &c.promoteL2L1, &c.demoteL1L2, &c.demoteL2L3, &c.dropped,
	} {
		v.Store(0)
	}
}

// New creates a tiered cache.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{cfg: cfg, now: time.Now}
	c.tiers[L1] = newTier(cfg.L1Size, cfg.L1MaxEntries)
	c.tiers[L2] = newTier(cfg.L2Size, cfg.L2MaxEntries)
	c.tiers[L3] = newTier(cfg.L3Size, cfg.L3MaxEntries)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Config returns the tier sizing.
func (c *Cache) Config() Config {
	return c.cfg
}

// initialTier picks the tier for an entry with the given access count.
func (c *Cache) initialTier(count uint64) Tier {
	switch {
	case count >= c.cfg.HotspotThreshold:
		return L1
	case count >= c.cfg.FrequentThreshold:
		return L2
	default:
		return L3
	}
}

// Insert stores code for addr with an access count of one, replacing any
// previous code for addr. It returns false if the code is larger than the
// L3 capacity and was not stored.
func (c *Cache) Insert(addr ir.GuestAddr, code []byte) bool {
	c.placeMu.Lock()
	defer c.placeMu.Unlock()

	for _, t := range c.tiers {
		t.remove(addr)
	}

	now := c.now()
	e := &entry{
		addr:        addr,
		code:        cloneBytes(code),
		accessCount: 1,
		createdAt:   now,
		lastAccess:  now,
	}
	if _, ok := c.place(e, c.initialTier(e.accessCount), now); !ok {
		c.ctr.rejected.Add(1)
		c.logger.Warn("code too large for cache", "addr", addr.String(), "size", len(code), "l3_size", c.cfg.L3Size)
		return false
	}
	c.ctr.inserts.Add(1)
	return true
}

// Get returns a copy of the code for addr, probing L1, L2, then L3.
// A hit bumps the entry's access count; an L2 hit reaching the hotspot
// threshold moves the entry to L1, and an L3 hit reaching the frequent
// threshold moves it to L2.
func (c *Cache) Get(addr ir.GuestAddr) ([]byte, bool) {
	if code, ok := c.probe(addr, false); ok {
		return code, true
	}

	c.placeMu.Lock()
	defer c.placeMu.Unlock()
	if code, ok := c.probe(addr, true); ok {
		return code, true
	}
	c.ctr.misses.Add(1)
	return nil, false
}

// probe looks addr up tier by tier. placed reports whether the caller
// already holds placeMu.
func (c *Cache) probe(addr ir.GuestAddr, placed bool) ([]byte, bool) {
	now := c.now()
	for i, t := range c.tiers {
		code, count, ok := t.touch(addr, now)
		if !ok {
			continue
		}
		switch {
		case Tier(i) == L2 && count >= c.cfg.HotspotThreshold:
			c.promote(addr, L2, L1, placed)
		case Tier(i) == L3 && count >= c.cfg.FrequentThreshold:
			c.promote(addr, L3, L2, placed)
		}
		return code, true
	}
	return nil, false
}

func (c *Cache) promote(addr ir.GuestAddr, from, to Tier, placed bool) {
	if !placed {
		c.placeMu.Lock()
		defer c.placeMu.Unlock()
	}

	e, ok := c.tiers[from].take(addr)
	if !ok {
		// Another caller moved or removed it first.
		return
	}
	now := c.now()
	landed, ok := c.place(e, to, now)
	if !ok {
		c.ctr.dropped.Add(1)
		return
	}
	if landed == to {
		switch to {
		case L1:
			c.ctr.promoteL2L1.Add(1)
		case L2:
			c.ctr.promoteL3L2.Add(1)
		}
		c.logger.Debug("code cache promotion", "addr", addr.String(), "from", from.String(), "to", to.String(), "accesses", e.accessCount)
	}
}

// place stores e in tier t or, if e cannot fit t at all, the next colder
// tier that can hold it. Room is made by evicting and demoting. Callers hold
// placeMu. Returns the tier used, or false if no tier can hold e.
func (c *Cache) place(e *entry, t Tier, now time.Time) (Tier, bool) {
	for ; t < numTiers; t++ {
		tr := c.tiers[t]
		if uint64(e.size()) > tr.capacity {
			continue
		}
		c.makeRoom(t, e.size(), now)
		tr.put(e)
		return t, true
	}
	return 0, false
}

// makeRoom evicts from tier t until an entry of size bytes fits.
// Callers hold placeMu.
func (c *Cache) makeRoom(t Tier, size int, now time.Time) {
	tr := c.tiers[t]
	for {
		victim, ok := tr.evictIfFull(size, now)
		if !ok {
			return
		}
		if t == L3 {
			c.ctr.dropped.Add(1)
			c.logger.Debug("code cache drop", "addr", victim.addr.String(), "size", victim.size())
			continue
		}
		landed, placed := c.place(victim, t+1, now)
		if !placed {
			c.ctr.dropped.Add(1)
			continue
		}
		switch {
		case t == L1 && landed == L2:
			c.ctr.demoteL1L2.Add(1)
		case t == L2 && landed == L3:
			c.ctr.demoteL2L3.Add(1)
		}
	}
}

// Remove deletes addr from whichever tier holds it.
func (c *Cache) Remove(addr ir.GuestAddr) bool {
	c.placeMu.Lock()
	defer c.placeMu.Unlock()
	for _, t := range c.tiers {
		if t.remove(addr) {
			c.ctr.removals.Add(1)
			return true
		}
	}
	return false
}

// Contains reports whether addr is cached, without counting an access.
func (c *Cache) Contains(addr ir.GuestAddr) bool {
	_, ok := c.TierOf(addr)
	return ok
}

// TierOf returns the tier holding addr.
func (c *Cache) TierOf(addr ir.GuestAddr) (Tier, bool) {
	c.placeMu.Lock()
	defer c.placeMu.Unlock()
	for i, t := range c.tiers {
		if t.has(addr) {
			return Tier(i), true
		}
	}
	return 0, false
}

// Clear drops every entry and resets statistics.
func (c *Cache) Clear() {
	c.placeMu.Lock()
	defer c.placeMu.Unlock()
	for _, t := range c.tiers {
		t.reset()
	}
	c.ctr.reset()
}

// Len returns the total number of resident entries.
func (c *Cache) Len() int {
	n := 0
	for _, t := range c.tiers {
		n += t.len()
	}
	return n
}

// CurrentSize returns the total resident bytes.
func (c *Cache) CurrentSize() uint64 {
	var n uint64
	for _, t := range c.tiers {
		n += t.size()
	}
	return n
}

// EntryInfo is a read-only view of one resident entry.
type EntryInfo struct {
	Addr        ir.GuestAddr `json:"addr"`
	Tier        Tier         `json:"tier"`
	Size        int          `json:"size"`
	AccessCount uint64       `json:"access_count"`
	CreatedAt   time.Time    `json:"created_at"`
	LastAccess  time.Time    `json:"last_access"`
	Score       float64      `json:"score"`
}

// Entries returns every resident entry sorted by address.
func (c *Cache) Entries() []EntryInfo {
	c.placeMu.Lock()
	defer c.placeMu.Unlock()
	now := c.now()
	var out []EntryInfo
	for i, t := range c.tiers {
		t.mu.Lock()
		for _, e := range t.entries {
			out = append(out, EntryInfo{
				Addr:        e.addr,
				Tier:        Tier(i),
				Size:        e.size(),
				AccessCount: e.accessCount,
				CreatedAt:   e.createdAt,
				LastAccess:  e.lastAccess,
				Score:       e.score(now),
			})
		}
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// TierStats describes one tier.
type TierStats struct {
	Entries   int    `json:"entries"`
	Bytes     uint64 `json:"bytes"`
	Capacity  uint64 `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Evictions uint64 `json:"evictions"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	L1 TierStats `json:"l1"`
	L2 TierStats `json:"l2"`
	L3 TierStats `json:"l3"`

	Misses      uint64 `json:"misses"`
	Inserts     uint64 `json:"inserts"`
	Rejected    uint64 `json:"rejected"`
	Removals    uint64 `json:"removals"`
	PromoteL3L2 uint64 `json:"promote_l3_l2"`
	PromoteL2L1 uint64 `json:"promote_l2_l1"`
	DemoteL1L2  uint64 `json:"demote_l1_l2"`
	DemoteL2L3  uint64 `json:"demote_l2_l3"`
	Dropped     uint64 `json:"dropped"`
}

// Hits returns total hits across tiers.
func (s Stats) Hits() uint64 {
	return s.L1.Hits + s.L2.Hits + s.L3.Hits
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits() + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1:          c.tiers[L1].stats(),
		L2:          c.tiers[L2].stats(),
		L3:          c.tiers[L3].stats(),
		Misses:      c.ctr.misses.Load(),
		Inserts:     c.ctr.inserts.Load(),
		Rejected:    c.ctr.rejected.Load(),
		Removals:    c.ctr.removals.Load(),
		PromoteL3L2: c.ctr.promoteL3L2.Load(),
		PromoteL2L1: c.ctr.promoteL2L1.Load(),
		DemoteL1L2:  c.ctr.demoteL1L2.Load(),
		DemoteL2L3:  c.ctr.demoteL2L3.Load(),
		Dropped:     c.ctr.dropped.Load(),
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
