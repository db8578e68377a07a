package runtime

import (
	"context"
	"errors"

	"github.com/roach88/vmtier/internal/compcache"
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/optimizer"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/scheduler"
	"github.com/roach88/vmtier/internal/store"
)

// levelFor maps a compiled mode to its optimizer level.
func (r *Runtime) levelFor(mode policy.Mode) optimizer.Level {
	if mode == policy.ModeAOT {
		return optimizer.LevelFromInt(r.cfg.Policy.AOTOptLevel)
	}
	return r.cfg.JITOptLevel
}

// newOptimizer creates a fresh optimizer for one compilation unit, so the
// inliner's recursion guard starts empty.
func (r *Runtime) newOptimizer(mode policy.Mode) *optimizer.Optimizer {
	opts := []optimizer.Option{
		optimizer.WithInlineThreshold(r.cfg.InlineThreshold),
		optimizer.WithUnrollThreshold(r.cfg.UnrollThreshold),
	}
	if r.cfg.PreserveOutputs {
		opts = append(opts, optimizer.WithPreserveOutputs())
	}
	if r.sizer != nil {
		opts = append(opts, optimizer.WithFuncSizer(r.sizer))
	}
	return optimizer.New(r.levelFor(mode), opts...)
}

// Lower runs the optimizer and the scheduler over a copy of b, the way a
// compile at mode would, without calling the backend.
func (r *Runtime) Lower(b *ir.Block, mode policy.Mode) (*ir.Block, optimizer.Stats, scheduler.Stats) {
	work := b.Clone()
	opt := r.newOptimizer(mode)
	opt.OptimizeBlock(work)
	if r.cfg.SkipScheduling {
		return work, opt.Stats(), scheduler.Stats{}
	}
	scheduled, sstats := scheduler.ScheduleBlock(work)
	return scheduled, opt.Stats(), sstats
}

// compileFunc adapts the optimize, schedule and emit pipeline to the
// memoization cache.
func (r *Runtime) compileFunc(ctx context.Context, mode policy.Mode) compcache.CompileFunc {
	return func(b *ir.Block) ([]byte, error) {
		lowered, ostats, sstats := r.Lower(b, mode)
		r.recordPasses(ostats, sstats)

		code, err := r.backend.Emit(ctx, lowered, mode)
		if err != nil {
			return nil, asCompileError(err, b.StartPC, mode)
		}
		return code, nil
	}
}

func (r *Runtime) recordPasses(o optimizer.Stats, s scheduler.Stats) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.passes.Optimizer.Add(o)
	if r.cfg.SkipScheduling {
		return
	}
	r.passes.ScheduledBlocks++
	if s.Reordered {
		r.passes.ReorderedBlocks++
	}
	r.passes.DependencyEdges += uint64(s.DependencyEdges)
}

// compile produces and installs code for b at mode.
//
// AOT compiles consult the artifact store first and persist fresh code.
// Store failures are logged and never fail the compile.
func (r *Runtime) compile(ctx context.Context, b *ir.Block, mode policy.Mode) (*CompiledBlock, error) {
	hash := ir.ContentHash(b)
	start := r.now()
	seq := r.seq.next()

	if cb, ok := r.loadArtifact(ctx, b, hash, mode, seq); ok {
		return cb, nil
	}

	memo, ok := r.memos[mode]
	if !ok {
		return nil, NewCompileError(ErrKindUnsupportedOperation, b.StartPC, mode, "mode %s is not compiled", mode)
	}
	code, err := memo.GetOrCompile(b, r.compileFunc(ctx, mode))
	elapsed := r.now().Sub(start)
	if err != nil {
		r.statsMu.Lock()
		r.stats.CompileFailures++
		r.statsMu.Unlock()
		return nil, err
	}

	cb := &CompiledBlock{
		BlockID:         b.StartPC,
		Hash:            hash,
		Seq:             seq,
		JobID:           r.ids.Generate(),
		CompiledAt:      start,
		CompileDuration: elapsed,
		Mode:            mode,
		Code:            code,
		CodeSize:        len(code),
	}

	r.statsMu.Lock()
	r.stats.Compilations++
	r.stats.TotalCompileTime += elapsed
	r.statsMu.Unlock()

	r.logger.Info("block compiled",
		"pc", b.StartPC.String(),
		"mode", mode.String(),
		"bytes", cb.CodeSize,
		"job", cb.JobID,
	)

	if mode == policy.ModeAOT && r.store != nil {
		err := r.store.WriteArtifact(ctx, store.Artifact{
			Hash:            hash,
			Mode:            mode,
			BlockAddr:       b.StartPC,
			Code:            code,
			SessionID:       r.session,
			JobID:           cb.JobID,
			CompiledAt:      cb.CompiledAt,
			CompileDuration: elapsed,
		})
		if err != nil {
			r.logger.Warn("artifact not persisted", "pc", b.StartPC.String(), "error", err)
		}
	}

	r.install(cb)
	return cb, nil
}

// loadArtifact installs a stored AOT artifact for b if one exists.
func (r *Runtime) loadArtifact(ctx context.Context, b *ir.Block, hash ir.BlockHash, mode policy.Mode, seq int64) (*CompiledBlock, bool) {
	if mode != policy.ModeAOT || r.store == nil {
		return nil, false
	}
	a, err := r.store.ReadArtifact(ctx, hash, mode)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("artifact lookup failed", "pc", b.StartPC.String(), "error", err)
		}
		return nil, false
	}

	cb := &CompiledBlock{
		BlockID:         b.StartPC,
		Hash:            hash,
		Seq:             seq,
		JobID:           a.JobID,
		CompiledAt:      a.CompiledAt,
		CompileDuration: a.CompileDuration,
		Mode:            mode,
		Code:            a.Code,
		CodeSize:        len(a.Code),
	}

	r.statsMu.Lock()
	r.stats.ArtifactLoads++
	r.statsMu.Unlock()
	r.logger.Info("artifact loaded", "pc", b.StartPC.String(), "job", a.JobID)

	r.install(cb)
	return cb, true
}

// install makes cb the current code for its block. It is discarded when
// code of a higher tier for the same contents is installed, when the
// installed code comes from a compile that started later, or when the block
// was invalidated after cb's compile started. A tier-up of the same
// contents replaces lower-tier code regardless of start order.
// Returns whether cb was installed.
func (r *Runtime) install(cb *CompiledBlock) bool {
	r.codeMu.Lock()
	defer r.codeMu.Unlock()

	if cb.Seq <= r.clearFence || cb.Seq <= r.fences[cb.BlockID] {
		r.logger.Debug("stale compile discarded", "pc", cb.BlockID.String(), "mode", cb.Mode.String(), "reason", "invalidated")
		return false
	}
	if cur, ok := r.compiled[cb.BlockID]; ok {
		sameCode := cur.Hash == cb.Hash
		if sameCode && cur.Mode > cb.Mode {
			return false
		}
		if cur.Seq > cb.Seq && !(sameCode && cb.Mode > cur.Mode) {
			r.logger.Debug("stale compile discarded", "pc", cb.BlockID.String(), "mode", cb.Mode.String(), "reason", "superseded")
			return false
		}
	}
	r.compiled[cb.BlockID] = cb
	r.index.ReplaceOrInsert(cb.BlockID)
	r.cacheCode(cb)
	return true
}

// cacheCode inserts cb into the tiered cache. Callers hold codeMu so the
// tiered cache never holds code older than the compiled table.
func (r *Runtime) cacheCode(cb *CompiledBlock) {
	if !r.tiers.Insert(cb.BlockID, cb.Code) {
		r.logger.Warn("compiled code too large for code cache", "pc", cb.BlockID.String(), "bytes", cb.CodeSize)
	}
}
