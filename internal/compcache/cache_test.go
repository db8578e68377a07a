package compcache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
)

func block(pc ir.GuestAddr) *ir.Block {
	return &ir.Block{
		StartPC: pc,
		Ops:     []ir.Op{ir.MovImm(1, 10), ir.MovImm(2, 20), ir.Binary(ir.OpAdd, 3, 1, 2)},
		Term:    ir.Terminator{Kind: ir.TermRet},
	}
}

// countingCompiler returns deterministic bytes derived from the start address.
type countingCompiler struct {
	calls atomic.Int64
}

func (cc *countingCompiler) compile(b *ir.Block) ([]byte, error) {
	cc.calls.Add(1)
	return []byte(fmt.Sprintf("code@%s", b.StartPC)), nil
}

func newTestCache(max int, opts ...Option) *Cache {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(max, opts...)
}

func TestGetOrCompile_HitReturnsSameBytes(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}

	first, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)
	second, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), cc.calls.Load(), "second call is a hit")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Compilations)
	assert.InDelta(t, 0.5, c.HitRate(), 1e-9)
}

func TestGetOrCompile_ReturnsCopies(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}

	code, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)
	code[0] = 'X'

	again, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)
	assert.Equal(t, "code@0x1000", string(again))
}

func TestGetOrCompile_LRUEviction(t *testing.T) {
	c := newTestCache(3)
	cc := &countingCompiler{}

	for _, pc := range []ir.GuestAddr{0x1000, 0x2000, 0x3000, 0x4000} {
		_, err := c.GetOrCompile(block(pc), cc.compile)
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(ir.ContentHash(block(0x1000)))
	assert.False(t, ok, "first-inserted block is evicted")
	_, ok = c.Get(ir.ContentHash(block(0x2000)))
	assert.True(t, ok)
}

func TestGetOrCompile_HitRefreshesRecency(t *testing.T) {
	c := newTestCache(2)
	cc := &countingCompiler{}

	_, _ = c.GetOrCompile(block(0x1000), cc.compile)
	_, _ = c.GetOrCompile(block(0x2000), cc.compile)
	_, _ = c.GetOrCompile(block(0x1000), cc.compile) // refresh
	_, _ = c.GetOrCompile(block(0x3000), cc.compile)

	_, ok := c.Get(ir.ContentHash(block(0x1000)))
	assert.True(t, ok)
	_, ok = c.Get(ir.ContentHash(block(0x2000)))
	assert.False(t, ok)
}

func TestGetOrCompile_FailureNotCached(t *testing.T) {
	c := newTestCache(10)
	boom := errors.New("unsupported operation")
	calls := 0
	failing := func(*ir.Block) ([]byte, error) {
		calls++
		return nil, boom
	}

	_, err := c.GetOrCompile(block(0x1000), failing)
	require.ErrorIs(t, err, boom)
	_, err = c.GetOrCompile(block(0x1000), failing)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 2, calls, "failures are retried")
	assert.Equal(t, 0, c.Len())
	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.CompileFailures)
	assert.Equal(t, uint64(0), stats.Compilations)
}

func TestWarmup_NoStatsAndZeroAccess(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}

	_, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)

	n, err := c.Warmup([]*ir.Block{block(0x1000), block(0x2000), block(0x3000)}, cc.compile)
	require.NoError(t, err)

	assert.Equal(t, 2, n, "already-present block skipped")
	assert.Equal(t, int64(3), cc.calls.Load())
	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	count, ok := c.AccessCount(ir.ContentHash(block(0x2000)))
	require.True(t, ok)
	assert.Equal(t, uint64(0), count)
}

func TestWarmup_Disabled(t *testing.T) {
	c := newTestCache(10, WithWarmup(false))
	cc := &countingCompiler{}

	n, err := c.Warmup([]*ir.Block{block(0x1000)}, cc.compile)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, c.Len())
}

func TestWarmup_ReportsFailures(t *testing.T) {
	c := newTestCache(10)
	compile := func(b *ir.Block) ([]byte, error) {
		if b.StartPC == 0x2000 {
			return nil, errors.New("malformed")
		}
		return []byte{1}, nil
	}

	n, err := c.Warmup([]*ir.Block{block(0x1000), block(0x2000), block(0x3000)}, compile)

	assert.Equal(t, 2, n)
	assert.ErrorContains(t, err, "warmup block 0x2000")
}

func TestOptimize_DropsColdEntries(t *testing.T) {
	c := newTestCache(10, WithHitThreshold(2))
	cc := &countingCompiler{}

	_, _ = c.GetOrCompile(block(0x1000), cc.compile) // access 1
	for i := 0; i < 3; i++ {
		_, _ = c.GetOrCompile(block(0x2000), cc.compile) // access 3
	}
	_, _ = c.Warmup([]*ir.Block{block(0x3000)}, cc.compile) // access 0

	removed := c.Optimize()

	assert.Equal(t, 2, removed)
	assert.Equal(t, []ir.BlockHash{ir.ContentHash(block(0x2000))}, c.CachedHashes())
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}
	_, _ = c.GetOrCompile(block(0x1000), cc.compile)
	_, _ = c.GetOrCompile(block(0x2000), cc.compile)

	assert.True(t, c.InvalidateBlock(block(0x1000)))
	assert.False(t, c.Invalidate(ir.ContentHash(block(0x1000))))
	assert.Equal(t, 1, c.InvalidateAddr(0x2000))
	assert.Equal(t, 0, c.Len())

	_, err := c.GetOrCompile(block(0x1000), cc.compile)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cc.calls.Load(), "invalidated block recompiles")
}

func TestGetOrCompileBatch(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}

	out, err := c.GetOrCompileBatch([]*ir.Block{block(0x1000), block(0x2000)}, cc.compile)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "code@0x2000", string(out[1]))

	failAt := func(b *ir.Block) ([]byte, error) {
		if b.StartPC == 0x4000 {
			return nil, errors.New("boom")
		}
		return []byte("ok"), nil
	}
	out, err = c.GetOrCompileBatch([]*ir.Block{block(0x3000), block(0x4000), block(0x5000)}, failAt)
	assert.ErrorContains(t, err, "block 0x4000")
	assert.Len(t, out, 1)
}

func TestClear(t *testing.T) {
	c := newTestCache(10)
	cc := &countingCompiler{}
	_, _ = c.GetOrCompile(block(0x1000), cc.compile)

	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{}, c.Stats())
	assert.Equal(t, 0.0, c.HitRate())
}

func TestConfig(t *testing.T) {
	c := New(0, WithHitThreshold(5), WithCoalescing())
	cfg := c.Config()
	assert.Equal(t, 1, cfg.MaxEntries)
	assert.Equal(t, 5, cfg.HitThreshold)
	assert.True(t, cfg.Warmup)
	assert.True(t, cfg.Coalesce)
}

func TestGetOrCompile_ConcurrentCallers(t *testing.T) {
	c := newTestCache(64)
	cc := &countingCompiler{}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				pc := ir.GuestAddr(0x1000 * (1 + (g+i)%8))
				code, err := c.GetOrCompile(block(pc), cc.compile)
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("code@%s", pc), string(code))
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, uint64(1600), stats.Hits+stats.Misses)
	assert.Equal(t, 8, c.Len())
}

func TestGetOrCompile_CoalescedCompile(t *testing.T) {
	c := newTestCache(8, WithCoalescing())
	release := make(chan struct{})
	var calls atomic.Int64
	slow := func(b *ir.Block) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("slow"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := c.GetOrCompile(block(0x7000), slow)
			assert.NoError(t, err)
			results[i] = code
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the other callers time to join the in-flight compile.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "slow", string(r))
	}
	assert.LessOrEqual(t, calls.Load(), int64(4))
	assert.Equal(t, 1, c.Len())
}
