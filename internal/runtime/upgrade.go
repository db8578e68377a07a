package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// requestUpgrade asks for b to be compiled at target. Requests are
// deduplicated per block: while one is pending, later ones are dropped.
func (r *Runtime) requestUpgrade(ctx context.Context, b *ir.Block, target policy.Mode) {
	if !target.Compiled() {
		return
	}

	r.pendingMu.Lock()
	if _, ok := r.pending[b.StartPC]; ok {
		r.pendingMu.Unlock()
		return
	}
	r.pending[b.StartPC] = target
	r.pendingMu.Unlock()

	req := upgradeRequest{block: b.Clone(), target: target}
	if r.syncUpgrades {
		r.processUpgrade(ctx, req)
		return
	}
	if !r.queue.Enqueue(req) {
		r.clearPending(b.StartPC)
		r.logger.Debug("upgrade dropped, runtime closed", "pc", b.StartPC.String())
		return
	}
	r.logger.Debug("upgrade queued", "pc", b.StartPC.String(), "mode", target.String())
}

func (r *Runtime) clearPending(addr ir.GuestAddr) {
	r.pendingMu.Lock()
	delete(r.pending, addr)
	r.pendingMu.Unlock()
}

// PendingUpgrades returns the number of requested upgrades not yet finished.
func (r *Runtime) PendingUpgrades() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// processUpgrade compiles one request. Code already installed at or above
// the target makes the request a no-op.
func (r *Runtime) processUpgrade(ctx context.Context, req upgradeRequest) {
	defer r.clearPending(req.block.StartPC)

	if cb := r.installed(req.block); cb != nil && cb.Mode >= req.target {
		return
	}

	if _, err := r.compile(ctx, req.block, req.target); err != nil {
		r.statsMu.Lock()
		r.stats.FailedUpgrades++
		r.statsMu.Unlock()
		r.logger.Error("upgrade failed",
			"pc", req.block.StartPC.String(),
			"mode", req.target.String(),
			"error", err,
		)
		return
	}

	r.statsMu.Lock()
	r.stats.Upgrades++
	r.statsMu.Unlock()
	r.logger.Info("block upgraded", "pc", req.block.StartPC.String(), "mode", req.target.String())
}

// Run processes queued upgrade requests until ctx is cancelled or Close is
// called and the queue has drained. At most MaxConcurrentCompilations
// compiles run at once.
//
// ERROR HANDLING: a failed upgrade is logged and counted; the block keeps
// running at its current tier and a later execution requests it again.
func (r *Runtime) Run(ctx context.Context) error {
	limit := r.cfg.Policy.MaxConcurrentCompilations
	r.logger.Info("upgrade worker starting", "max_concurrent", limit)

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		req, ok := r.queue.TryDequeue()
		if ok {
			if err := sem.Acquire(ctx, 1); err != nil {
				r.clearPending(req.block.StartPC)
				return r.stopCancelled(ctx)
			}
			wg.Add(1)
			go func(req upgradeRequest) {
				defer wg.Done()
				defer sem.Release(1)
				r.processUpgrade(ctx, req)
			}(req)
			continue
		}

		select {
		case <-ctx.Done():
			return r.stopCancelled(ctx)
		case _, open := <-r.queue.Wait():
			if !open && r.queue.Len() == 0 {
				r.logger.Info("upgrade worker stopping", "reason", "closed")
				return nil
			}
		}
	}
}

// stopCancelled abandons every queued request and releases its pending
// mark, so the blocks can request the upgrade again from a later execution.
func (r *Runtime) stopCancelled(ctx context.Context) error {
	dropped := r.queue.Drain()
	for _, req := range dropped {
		r.clearPending(req.block.StartPC)
	}
	r.logger.Info("upgrade worker stopping", "reason", "context cancelled", "dropped", len(dropped))
	return ctx.Err()
}
