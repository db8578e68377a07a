package runtime

import (
	"context"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/store"
)

// Interpreter executes a block op by op.
type Interpreter interface {
	Interpret(ctx context.Context, b *ir.Block) error
}

// Dispatcher transfers control to compiled code for b.
type Dispatcher interface {
	Dispatch(ctx context.Context, b *ir.Block, code []byte) error
}

// Backend emits native code for an optimized, scheduled block.
// Failures should be returned as *CompileError; anything else is wrapped
// as ErrKindInternal.
type Backend interface {
	Emit(ctx context.Context, b *ir.Block, mode policy.Mode) ([]byte, error)
}

// ArtifactStore persists AOT code and execution profiles.
// Implemented by *store.Store.
type ArtifactStore interface {
	ReadArtifact(ctx context.Context, hash ir.BlockHash, mode policy.Mode) (store.Artifact, error)
	WriteArtifact(ctx context.Context, a store.Artifact) error
	DeleteArtifactsInRange(ctx context.Context, lo, hi ir.GuestAddr) (int64, error)
	WriteProfile(ctx context.Context, entries []store.ProfileEntry) error
	ReadProfile(ctx context.Context) ([]store.ProfileEntry, error)
}

var _ ArtifactStore = (*store.Store)(nil)
