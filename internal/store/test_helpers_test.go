package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/testutil"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestArtifact builds an AOT artifact for a small add block at start.
func createTestArtifact(start ir.GuestAddr, code []byte) Artifact {
	b := testutil.AddBlock(start)
	return Artifact{
		Hash:            ir.ContentHash(b),
		Mode:            policy.ModeAOT,
		BlockAddr:       start,
		Code:            code,
		SessionID:       "session-1",
		JobID:           "job-00000001",
		CompiledAt:      testutil.Epoch,
		CompileDuration: 3 * time.Millisecond,
	}
}
