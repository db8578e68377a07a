package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/store"
	"github.com/roach88/vmtier/internal/testutil"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "vmtier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAOTArtifactsPersistAcrossRuntimes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	blocks := []*ir.Block{testutil.AddBlock(0x1000), testutil.LoopBlock(0x2000)}

	first := newTestEnv(t, syncConfig(), WithStore(s))
	n, err := first.rt.Precompile(ctx, blocks, policy.ModeAOT)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	infos, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, first.rt.SessionID(), infos[0].SessionID)

	second := newTestEnv(t, syncConfig(), WithStore(s))
	n, err = second.rt.Precompile(ctx, blocks, policy.ModeAOT)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, second.backend.Calls(), "code came from the store")
	assert.Equal(t, uint64(2), second.rt.GetExecutionStats().ArtifactLoads)

	want, _ := first.rt.CompiledBlock(0x2000)
	got, ok := second.rt.CompiledBlock(0x2000)
	require.True(t, ok)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.JobID, got.JobID)
}

func TestJITCodeIsNotPersisted(t *testing.T) {
	s := openTestStore(t)
	env := newTestEnv(t, syncConfig(), WithStore(s))
	precompileAt(t, env.rt, policy.ModeJIT, 0x1000)

	infos, err := s.ListArtifacts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestInvalidateRange_DeletesStoredArtifacts(t *testing.T) {
	s := openTestStore(t)
	env := newTestEnv(t, syncConfig(), WithStore(s))
	precompileAt(t, env.rt, policy.ModeAOT, 0x1000, 0x2000)

	env.rt.InvalidateRange(context.Background(), 0x2000, 0x3000)

	infos, err := s.ListArtifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ir.GuestAddr(0x1000), infos[0].BlockAddr)
}

func TestProfileSeedsCountsWithPGO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testutil.AddBlock(0x1000)

	first := newTestEnv(t, syncConfig(), WithStore(s), WithSyncUpgrades())
	for i := 0; i < 5; i++ {
		first.rt.ExecuteBlock(ctx, b)
	}
	require.NoError(t, first.rt.SaveProfile(ctx))

	cfg := syncConfig()
	cfg.Policy.EnablePGO = true
	second := newTestEnv(t, cfg, WithStore(s), WithSyncUpgrades())
	loaded, err := second.rt.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	res := second.rt.ExecuteBlock(ctx, b)
	assert.Equal(t, policy.ModeJIT, res.Mode, "seeded count 5 is past the JIT threshold")
	bs, _ := second.rt.GetBlockStats(0x1000)
	assert.Equal(t, uint64(6), bs.ExecutionCount)
}

func TestProfileIgnoredWithoutPGO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteProfile(ctx, []store.ProfileEntry{
		{BlockAddr: 0x1000, ExecutionCount: 50, Mode: policy.ModeJIT, UpdatedAt: testutil.Epoch},
	}))

	env := newTestEnv(t, syncConfig(), WithStore(s))
	_, err := env.rt.LoadProfile(ctx)
	require.NoError(t, err)

	res := env.rt.ExecuteBlock(ctx, testutil.AddBlock(0x1000))
	assert.Equal(t, policy.ModeInterpreter, res.Mode)
}

func TestProfileWithoutStore(t *testing.T) {
	env := newTestEnv(t, syncConfig())

	assert.NoError(t, env.rt.SaveProfile(context.Background()))
	n, err := env.rt.LoadProfile(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}
