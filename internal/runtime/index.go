package runtime

import (
	"context"

	"github.com/roach88/vmtier/internal/ir"
)

// InvalidateRange discards compiled code for every block starting in
// [lo, hi), for guest code that was overwritten. Block statistics are kept,
// so the next execution recompiles at the block's current tier.
// Returns the number of blocks invalidated.
func (r *Runtime) InvalidateRange(ctx context.Context, lo, hi ir.GuestAddr) int {
	if hi <= lo {
		return 0
	}

	r.codeMu.Lock()
	var victims []ir.GuestAddr
	r.index.AscendRange(lo, hi, func(addr ir.GuestAddr) bool {
		victims = append(victims, addr)
		return true
	})
	fence := r.seq.current()
	for _, addr := range victims {
		r.fences[addr] = fence
		delete(r.compiled, addr)
		r.index.Delete(addr)
		r.tiers.Remove(addr)
	}
	r.codeMu.Unlock()

	for _, addr := range victims {
		for _, m := range r.memos {
			m.InvalidateAddr(addr)
		}
	}

	if r.store != nil {
		if _, err := r.store.DeleteArtifactsInRange(ctx, lo, hi); err != nil {
			r.logger.Warn("stored artifacts not invalidated", "lo", lo.String(), "hi", hi.String(), "error", err)
		}
	}

	r.statsMu.Lock()
	r.stats.Invalidations += uint64(len(victims))
	r.statsMu.Unlock()

	if len(victims) > 0 {
		r.logger.Info("compiled code invalidated", "lo", lo.String(), "hi", hi.String(), "blocks", len(victims))
	}
	return len(victims)
}

// CompiledAddrs returns the start addresses of all blocks with installed
// code, in ascending order.
func (r *Runtime) CompiledAddrs() []ir.GuestAddr {
	r.codeMu.RLock()
	defer r.codeMu.RUnlock()
	out := make([]ir.GuestAddr, 0, r.index.Len())
	r.index.Ascend(func(addr ir.GuestAddr) bool {
		out = append(out, addr)
		return true
	})
	return out
}
