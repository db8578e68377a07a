package codecache

import (
	"sync"
	"time"

	"github.com/roach88/vmtier/internal/ir"
)

type entry struct {
	addr        ir.GuestAddr
	code        []byte
	accessCount uint64
	createdAt   time.Time
	lastAccess  time.Time
}

func (e *entry) size() int {
	return len(e.code)
}

// score is age / (access_frequency + 1), with frequency in accesses per
// second of age and age floored at one second for the frequency term.
// Higher scores are evicted first.
func (e *entry) score(now time.Time) float64 {
	age := now.Sub(e.createdAt).Seconds()
	if age < 0 {
		age = 0
	}
	freq := float64(e.accessCount) / max(age, 1)
	return age / (freq + 1)
}

// evictsBefore orders eviction candidates: higher score first, then the
// least recently accessed, then the lower address.
func (e *entry) evictsBefore(o *entry, now time.Time) bool {
	se, so := e.score(now), o.score(now)
	if se != so {
		return se > so
	}
	if !e.lastAccess.Equal(o.lastAccess) {
		return e.lastAccess.Before(o.lastAccess)
	}
	return e.addr < o.addr
}

// tier is one lock-protected level of the cache.
type tier struct {
	mu         sync.Mutex
	entries    map[ir.GuestAddr]*entry
	bytes      uint64
	capacity   uint64
	maxEntries int
	hits       uint64
	evictions  uint64
}

func newTier(capacity uint64, maxEntries int) *tier {
	return &tier{
		entries:    make(map[ir.GuestAddr]*entry),
		capacity:   capacity,
		maxEntries: maxEntries,
	}
}

// touch records a hit and returns a copy of the code and the new access count.
func (t *tier) touch(addr ir.GuestAddr, now time.Time) ([]byte, uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return nil, 0, false
	}
	e.accessCount++
	e.lastAccess = now
	t.hits++
	return cloneBytes(e.code), e.accessCount, true
}

// take removes and returns the entry for addr.
func (t *tier) take(addr ir.GuestAddr) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return nil, false
	}
	delete(t.entries, addr)
	t.bytes -= uint64(e.size())
	return e, true
}

func (t *tier) put(e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.addr] = e
	t.bytes += uint64(e.size())
}

func (t *tier) remove(addr ir.GuestAddr) bool {
	_, ok := t.take(addr)
	return ok
}

func (t *tier) has(addr ir.GuestAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[addr]
	return ok
}

func (t *tier) full(size int) bool {
	if t.bytes+uint64(size) > t.capacity {
		return true
	}
	return t.maxEntries > 0 && len(t.entries) >= t.maxEntries
}

// evictIfFull removes the best eviction candidate if an entry of size bytes
// does not fit. Returns false once it fits or the tier is empty.
func (t *tier) evictIfFull(size int, now time.Time) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full(size) || len(t.entries) == 0 {
		return nil, false
	}
	var victim *entry
	for _, e := range t.entries {
		if victim == nil || e.evictsBefore(victim, now) {
			victim = e
		}
	}
	delete(t.entries, victim.addr)
	t.bytes -= uint64(victim.size())
	t.evictions++
	return victim, true
}

func (t *tier) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
	t.bytes = 0
	t.hits = 0
	t.evictions = 0
}

func (t *tier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *tier) size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

func (t *tier) stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Entries:   len(t.entries),
		Bytes:     t.bytes,
		Capacity:  t.capacity,
		Hits:      t.hits,
		Evictions: t.evictions,
	}
}
