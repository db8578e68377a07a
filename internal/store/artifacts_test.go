package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

func TestWriteReadArtifact_Compressible(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	code := bytes.Repeat([]byte{0x90}, 4096)
	a := createTestArtifact(0x1000, code)

	require.NoError(t, s.WriteArtifact(ctx, a))
	got, err := s.ReadArtifact(ctx, a.Hash, policy.ModeAOT)

	require.NoError(t, err)
	assert.Equal(t, a, got)

	infos, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Compressed)
	assert.Equal(t, 4096, infos[0].CodeSize)
	assert.Less(t, infos[0].StoredSize, 4096)
}

func TestWriteReadArtifact_Incompressible(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestArtifact(0x1000, []byte{0x01, 0x7f, 0x33})

	require.NoError(t, s.WriteArtifact(ctx, a))
	got, err := s.ReadArtifact(ctx, a.Hash, policy.ModeAOT)

	require.NoError(t, err)
	assert.Equal(t, a.Code, got.Code)

	infos, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Compressed)
	assert.Equal(t, 3, infos[0].StoredSize)
}

func TestReadArtifact_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadArtifact(context.Background(), ir.BlockHash("missing"), policy.ModeAOT)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadArtifact_ModeIsPartOfKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestArtifact(0x1000, []byte("aot"))
	require.NoError(t, s.WriteArtifact(ctx, a))

	_, err := s.ReadArtifact(ctx, a.Hash, policy.ModeJIT)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteArtifact_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := createTestArtifact(0x1000, []byte("first"))
	second := first
	second.Code = []byte("second")

	require.NoError(t, s.WriteArtifact(ctx, first))
	require.NoError(t, s.WriteArtifact(ctx, second))

	got, err := s.ReadArtifact(ctx, first.Hash, policy.ModeAOT)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got.Code))
}

func TestWriteArtifact_EmptyHash(t *testing.T) {
	s := createTestStore(t)
	a := createTestArtifact(0x1000, []byte{1})
	a.Hash = ""

	assert.Error(t, s.WriteArtifact(context.Background(), a))
}

func TestListArtifacts_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, addr := range []ir.GuestAddr{0x3000, 0x1000, 0x2000} {
		require.NoError(t, s.WriteArtifact(ctx, createTestArtifact(addr, []byte{byte(addr >> 8)})))
	}

	infos, err := s.ListArtifacts(ctx)

	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, ir.GuestAddr(0x1000), infos[0].BlockAddr)
	assert.Equal(t, ir.GuestAddr(0x2000), infos[1].BlockAddr)
	assert.Equal(t, ir.GuestAddr(0x3000), infos[2].BlockAddr)
}

func TestListArtifacts_Empty(t *testing.T) {
	s := createTestStore(t)

	infos, err := s.ListArtifacts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteArtifactsInRange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, addr := range []ir.GuestAddr{0x1000, 0x2000, 0x3000} {
		require.NoError(t, s.WriteArtifact(ctx, createTestArtifact(addr, []byte{1})))
	}

	n, err := s.DeleteArtifactsInRange(ctx, 0x1800, 0x3000)

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	infos, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ir.GuestAddr(0x1000), infos[0].BlockAddr)
	assert.Equal(t, ir.GuestAddr(0x3000), infos[1].BlockAddr)
}

func TestDeleteArtifactsInRange_EmptyRange(t *testing.T) {
	s := createTestStore(t)

	n, err := s.DeleteArtifactsInRange(context.Background(), 0x2000, 0x1000)

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArtifact_HighAddressRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestArtifact(0xffff_8000_0000_1000, []byte{1, 2})

	require.NoError(t, s.WriteArtifact(ctx, a))
	got, err := s.ReadArtifact(ctx, a.Hash, policy.ModeAOT)

	require.NoError(t, err)
	assert.Equal(t, ir.GuestAddr(0xffff_8000_0000_1000), got.BlockAddr)
}
