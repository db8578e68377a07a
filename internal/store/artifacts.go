package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// Artifact is a compiled code blob for one block at one tier.
type Artifact struct {
	Hash            ir.BlockHash
	Mode            policy.Mode
	BlockAddr       ir.GuestAddr
	Code            []byte
	SessionID       string
	JobID           string
	CompiledAt      time.Time
	CompileDuration time.Duration
}

// ArtifactInfo describes a stored artifact without its code.
type ArtifactInfo struct {
	Hash            ir.BlockHash
	Mode            policy.Mode
	BlockAddr       ir.GuestAddr
	CodeSize        int
	StoredSize      int
	Compressed      bool
	SessionID       string
	CompiledAt      time.Time
	CompileDuration time.Duration
}

// WriteArtifact persists compiled code.
// Uses ON CONFLICT(hash, mode) DO NOTHING: the content hash fully determines
// the code, so the first write wins.
func (s *Store) WriteArtifact(ctx context.Context, a Artifact) error {
	if a.Hash == "" {
		return fmt.Errorf("write artifact: empty hash")
	}
	data, compressed, err := compressCode(a.Code)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", a.Hash.Short(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts
		(hash, mode, block_addr, code, code_size, compressed, session_id, job_id, compiled_at_ns, compile_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash, mode) DO NOTHING
	`,
		string(a.Hash),
		a.Mode.String(),
		int64(a.BlockAddr),
		data,
		len(a.Code),
		boolToInt(compressed),
		a.SessionID,
		a.JobID,
		a.CompiledAt.UnixNano(),
		int64(a.CompileDuration),
	)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", a.Hash.Short(), err)
	}

	return nil
}

// ReadArtifact loads the artifact stored for (hash, mode).
// Returns ErrNotFound if there is none.
func (s *Store) ReadArtifact(ctx context.Context, hash ir.BlockHash, mode policy.Mode) (Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT block_addr, code, code_size, compressed, session_id, job_id, compiled_at_ns, compile_ns
		FROM artifacts
		WHERE hash = ? AND mode = ?
	`, string(hash), mode.String())

	var (
		addr       int64
		data       []byte
		size       int
		compressed int
		compiledAt int64
		compileNS  int64
		a          = Artifact{Hash: hash, Mode: mode}
	)
	err := row.Scan(&addr, &data, &size, &compressed, &a.SessionID, &a.JobID, &compiledAt, &compileNS)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("read artifact %s/%s: %w", hash.Short(), mode, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact %s/%s: %w", hash.Short(), mode, err)
	}

	code, err := decompressCode(data, compressed != 0, size)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact %s/%s: %w", hash.Short(), mode, err)
	}

	a.BlockAddr = ir.GuestAddr(uint64(addr))
	a.Code = code
	a.CompiledAt = time.Unix(0, compiledAt).UTC()
	a.CompileDuration = time.Duration(compileNS)
	return a, nil
}

// ListArtifacts returns metadata for every stored artifact, ordered by
// block address then mode.
func (s *Store) ListArtifacts(ctx context.Context) ([]ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, mode, block_addr, code_size, length(code), compressed, session_id, compiled_at_ns, compile_ns
		FROM artifacts
		ORDER BY block_addr ASC, mode ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var infos []ArtifactInfo
	for rows.Next() {
		var (
			info       ArtifactInfo
			hash, mode string
			addr       int64
			compressed int
			compiledAt int64
			compileNS  int64
		)
		if err := rows.Scan(&hash, &mode, &addr, &info.CodeSize, &info.StoredSize, &compressed,
			&info.SessionID, &compiledAt, &compileNS); err != nil {
			return nil, fmt.Errorf("list artifacts: scan: %w", err)
		}
		m, err := policy.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		info.Hash = ir.BlockHash(hash)
		info.Mode = m
		info.BlockAddr = ir.GuestAddr(uint64(addr))
		info.Compressed = compressed != 0
		info.CompiledAt = time.Unix(0, compiledAt).UTC()
		info.CompileDuration = time.Duration(compileNS)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	return infos, nil
}

// DeleteArtifactsInRange removes artifacts for blocks starting in [lo, hi)
// and returns how many rows were deleted.
func (s *Store) DeleteArtifactsInRange(ctx context.Context, lo, hi ir.GuestAddr) (int64, error) {
	if hi <= lo {
		return 0, nil
	}
	// Addresses are stored as signed bits, so the range query only holds
	// while both bounds sit on the same side of the sign bit.
	if (int64(lo) < 0) != (int64(hi) < 0) {
		return 0, fmt.Errorf("delete artifacts: range %s..%s crosses the sign bit", lo, hi)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE block_addr >= ? AND block_addr < ?`,
		int64(lo), int64(hi))
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
