package runtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// Precompile compiles blocks at mode ahead of their first execution, with
// at most MaxConcurrentCompilations compiles in flight. Blocks that already
// have code at or above mode are skipped. The first compile failure cancels
// the remaining work and is returned. Returns the number of blocks compiled.
func (r *Runtime) Precompile(ctx context.Context, blocks []*ir.Block, mode policy.Mode) (int, error) {
	if !mode.Compiled() {
		return 0, fmt.Errorf("precompile: mode %s is not a compiled mode", mode)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Policy.MaxConcurrentCompilations)

	var compiled atomic.Int64
	for _, b := range blocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if cb := r.installed(b); cb != nil && cb.Mode >= mode {
				return nil
			}
			if _, err := r.compile(gctx, b, mode); err != nil {
				return fmt.Errorf("precompile block %s: %w", b.StartPC, err)
			}
			compiled.Add(1)
			return nil
		})
	}

	err := g.Wait()
	n := int(compiled.Load())
	r.logger.Info("precompile finished", "mode", mode.String(), "requested", len(blocks), "compiled", n)
	return n, err
}

// Warmup fills the memoization cache for mode without installing code or
// touching hit and miss counters. A later compile of the same contents is a
// cache hit. Returns the number of blocks compiled.
func (r *Runtime) Warmup(ctx context.Context, blocks []*ir.Block, mode policy.Mode) (int, error) {
	memo, ok := r.memos[mode]
	if !ok {
		return 0, fmt.Errorf("warmup: mode %s is not a compiled mode", mode)
	}
	return memo.Warmup(blocks, r.compileFunc(ctx, mode))
}
