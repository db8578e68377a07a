package runtime

import (
	"context"
	"fmt"

	"github.com/roach88/vmtier/internal/store"
)

// SaveProfile persists every block's execution count and current mode.
// A no-op without a store.
func (r *Runtime) SaveProfile(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	now := r.now()
	snaps := r.snapshots()
	entries := make([]store.ProfileEntry, 0, len(snaps))
	for _, s := range snaps {
		entries = append(entries, store.ProfileEntry{
			BlockAddr:      s.BlockID,
			ExecutionCount: s.ExecutionCount,
			Mode:           s.CurrentMode,
			UpdatedAt:      now,
		})
	}
	if err := r.store.WriteProfile(ctx, entries); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	r.logger.Info("profile saved", "blocks", len(entries))
	return nil
}

// LoadProfile reads the stored profile. With Policy.EnablePGO, blocks first
// seen after this call start from their stored execution count, so hot code
// reaches its tier without re-earning it. A no-op without a store.
func (r *Runtime) LoadProfile(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	entries, err := r.store.ReadProfile(ctx)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}

	r.profileMu.Lock()
	for _, e := range entries {
		r.profile[e.BlockAddr] = e.ExecutionCount
	}
	r.profileMu.Unlock()

	r.logger.Info("profile loaded", "blocks", len(entries), "pgo", r.cfg.Policy.EnablePGO)
	return len(entries), nil
}
