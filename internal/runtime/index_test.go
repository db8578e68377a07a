package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/scheduler"
	"github.com/roach88/vmtier/internal/testutil"
)

func precompileAt(t *testing.T, rt *Runtime, mode policy.Mode, addrs ...ir.GuestAddr) {
	t.Helper()
	blocks := make([]*ir.Block, 0, len(addrs))
	for _, a := range addrs {
		blocks = append(blocks, testutil.AddBlock(a))
	}
	n, err := rt.Precompile(context.Background(), blocks, mode)
	require.NoError(t, err)
	require.Equal(t, len(addrs), n)
}

func TestInvalidateRange(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	precompileAt(t, env.rt, policy.ModeJIT, 0x3000, 0x1000, 0x2000, 0x2800)

	n := env.rt.InvalidateRange(context.Background(), 0x1800, 0x3000)

	assert.Equal(t, 2, n)
	assert.Equal(t, []ir.GuestAddr{0x1000, 0x3000}, env.rt.CompiledAddrs())
	assert.False(t, env.rt.CodeCache().Contains(0x2000))
	assert.False(t, env.rt.CodeCache().Contains(0x2800))
	assert.True(t, env.rt.CodeCache().Contains(0x3000), "upper bound is exclusive")
	memo, _ := env.rt.MemoStats(policy.ModeJIT)
	assert.Equal(t, 2, memo.Entries)
	assert.Equal(t, uint64(2), env.rt.GetExecutionStats().Invalidations)
}

func TestInvalidateRange_Empty(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	precompileAt(t, env.rt, policy.ModeJIT, 0x1000)

	assert.Zero(t, env.rt.InvalidateRange(context.Background(), 0x2000, 0x1000))
	assert.Zero(t, env.rt.InvalidateRange(context.Background(), 0x2000, 0x3000))
	assert.Equal(t, []ir.GuestAddr{0x1000}, env.rt.CompiledAddrs())
}

func TestInvalidateRange_RecompilesOnNextExecution(t *testing.T) {
	cfg := syncConfig()
	cfg.Policy.JITThreshold = 0
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	b := testutil.AddBlock(0x1000)
	env.rt.ExecuteBlock(ctx, b)

	env.rt.InvalidateRange(ctx, 0x1000, 0x1001)
	res := env.rt.ExecuteBlock(ctx, b)

	assert.True(t, res.Success)
	assert.Equal(t, 2, env.backend.Calls(), "memo entry was invalidated too")
}

func TestPrecompile_SkipsInstalled(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	precompileAt(t, env.rt, policy.ModeAOT, 0x1000)

	n, err := env.rt.Precompile(context.Background(), []*ir.Block{testutil.AddBlock(0x1000)}, policy.ModeJIT)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.backend.Calls())
}

func TestPrecompile_ReportsFailure(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	env.backend.failWith(0x2000, NewCompileError(ErrKindMalformedIR, 0x2000, policy.ModeJIT, "bad"))

	_, err := env.rt.Precompile(context.Background(),
		[]*ir.Block{testutil.AddBlock(0x1000), testutil.AddBlock(0x2000)}, policy.ModeJIT)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "precompile block 0x2000")
	kind, ok := CompileErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindMalformedIR, kind)
}

func TestPrecompile_RejectsInterpreterMode(t *testing.T) {
	env := newTestEnv(t, syncConfig())

	_, err := env.rt.Precompile(context.Background(), []*ir.Block{testutil.AddBlock(0x1000)}, policy.ModeInterpreter)

	assert.Error(t, err)
}

func TestWarmup_FillsMemoWithoutInstalling(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	ctx := context.Background()
	blocks := []*ir.Block{testutil.AddBlock(0x1000), testutil.AddBlock(0x2000)}

	n, err := env.rt.Warmup(ctx, blocks, policy.ModeJIT)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, env.rt.CompiledAddrs())

	precompileAt(t, env.rt, policy.ModeJIT, 0x1000)
	assert.Equal(t, 2, env.backend.Calls(), "warm entry reused")
	memo, _ := env.rt.MemoStats(policy.ModeJIT)
	assert.Equal(t, uint64(1), memo.Hits)

	_, err = env.rt.Warmup(ctx, blocks, policy.ModeInterpreter)
	assert.Error(t, err)
}

func TestLower_OptimizesAndSchedules(t *testing.T) {
	cfg := syncConfig()
	cfg.PreserveOutputs = false
	env := newTestEnv(t, cfg)
	b := testutil.MustBlock(0x1000, "ret",
		"movi r1, 10",
		"movi r2, 20",
		"add r3, r1, r2",
		"st r3, [r4+0]",
	)

	lowered, ostats, sstats := env.rt.Lower(b, policy.ModeJIT)

	assert.Equal(t, uint64(1), ostats.ConstFolds)
	assert.Equal(t, 2, sstats.OriginalOps)
	assert.Len(t, lowered.Ops, 2, "r1 and r2 die after folding")
	assert.Len(t, b.Ops, 4, "input block untouched")
}

func TestLower_SkipScheduling(t *testing.T) {
	cfg := syncConfig()
	cfg.SkipScheduling = true
	env := newTestEnv(t, cfg)

	lowered, _, sstats := env.rt.Lower(testutil.AddBlock(0x1000), policy.ModeJIT)

	assert.Equal(t, scheduler.Stats{}, sstats)
	assert.NotEmpty(t, lowered.Ops)
}

// fakeCompiled builds a CompiledBlock as a compile that drew seq would.
func fakeCompiled(addr ir.GuestAddr, hash ir.BlockHash, mode policy.Mode, seq int64) *CompiledBlock {
	code := []byte{0x90, byte(seq)}
	return &CompiledBlock{BlockID: addr, Hash: hash, Seq: seq, Mode: mode, Code: code, CodeSize: len(code)}
}

func TestInstall_EarlierCompileDoesNotReplaceLater(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	older := fakeCompiled(0x1000, "old-contents", policy.ModeJIT, env.rt.seq.next())
	newer := fakeCompiled(0x1000, "new-contents", policy.ModeJIT, env.rt.seq.next())

	require.True(t, env.rt.install(newer))
	assert.False(t, env.rt.install(older), "the earlier compile finished last")

	cb, ok := env.rt.CompiledBlock(0x1000)
	require.True(t, ok)
	assert.Equal(t, ir.BlockHash("new-contents"), cb.Hash)
	code, ok := env.rt.CodeCache().Get(0x1000)
	require.True(t, ok)
	assert.Equal(t, newer.Code, code)
}

func TestInstall_TierUpOfSameContentsIgnoresStartOrder(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	aot := fakeCompiled(0x1000, "same", policy.ModeAOT, env.rt.seq.next())
	jit := fakeCompiled(0x1000, "same", policy.ModeJIT, env.rt.seq.next())

	require.True(t, env.rt.install(jit))
	assert.True(t, env.rt.install(aot))
	assert.False(t, env.rt.install(jit), "lower tier never replaces higher for the same contents")

	cb, _ := env.rt.CompiledBlock(0x1000)
	assert.Equal(t, policy.ModeAOT, cb.Mode)
}

func TestInstall_InvalidationFencesInFlightCompiles(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	ctx := context.Background()
	require.True(t, env.rt.install(fakeCompiled(0x1000, "a", policy.ModeJIT, env.rt.seq.next())))
	inFlight := fakeCompiled(0x1000, "a", policy.ModeAOT, env.rt.seq.next())

	require.Equal(t, 1, env.rt.InvalidateRange(ctx, 0x1000, 0x1001))

	assert.False(t, env.rt.install(inFlight), "started before the guest code changed")
	_, ok := env.rt.CompiledBlock(0x1000)
	assert.False(t, ok)

	assert.True(t, env.rt.install(fakeCompiled(0x1000, "b", policy.ModeJIT, env.rt.seq.next())))
}

func TestInstall_ClearCacheFencesInFlightCompiles(t *testing.T) {
	env := newTestEnv(t, syncConfig())
	inFlight := fakeCompiled(0x2000, "a", policy.ModeJIT, env.rt.seq.next())

	env.rt.ClearCache()

	assert.False(t, env.rt.install(inFlight))
	assert.Empty(t, env.rt.CompiledAddrs())
	assert.True(t, env.rt.install(fakeCompiled(0x2000, "a", policy.ModeJIT, env.rt.seq.next())))
}
