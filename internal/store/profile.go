package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// ProfileEntry records how often a block ran and the tier it last ran at.
type ProfileEntry struct {
	BlockAddr      ir.GuestAddr
	ExecutionCount uint64
	Mode           policy.Mode
	UpdatedAt      time.Time
}

// WriteProfile upserts profile entries in a single transaction.
// An existing row keeps the larger execution count.
func (s *Store) WriteProfile(ctx context.Context, entries []ProfileEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write profile: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile (block_addr, execution_count, mode, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(block_addr) DO UPDATE SET
			execution_count = MAX(execution_count, excluded.execution_count),
			mode = excluded.mode,
			updated_at_ns = excluded.updated_at_ns
	`)
	if err != nil {
		return fmt.Errorf("write profile: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ExecutionCount > 1<<63-1 {
			return fmt.Errorf("write profile: block %s: count %d overflows", e.BlockAddr, e.ExecutionCount)
		}
		if _, err := stmt.ExecContext(ctx,
			int64(e.BlockAddr),
			int64(e.ExecutionCount),
			e.Mode.String(),
			e.UpdatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("write profile: block %s: %w", e.BlockAddr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write profile: commit: %w", err)
	}
	return nil
}

// ReadProfile returns all profile entries ordered by block address.
func (s *Store) ReadProfile(ctx context.Context) ([]ProfileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_addr, execution_count, mode, updated_at_ns
		FROM profile
		ORDER BY block_addr ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	defer rows.Close()

	var entries []ProfileEntry
	for rows.Next() {
		var (
			addr, count, updated int64
			mode                 string
		)
		if err := rows.Scan(&addr, &count, &mode, &updated); err != nil {
			return nil, fmt.Errorf("read profile: scan: %w", err)
		}
		m, err := policy.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		entries = append(entries, ProfileEntry{
			BlockAddr:      ir.GuestAddr(uint64(addr)),
			ExecutionCount: uint64(count),
			Mode:           m,
			UpdatedAt:      time.Unix(0, updated).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	return entries, nil
}
