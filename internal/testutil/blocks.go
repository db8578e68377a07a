package testutil

import (
	"fmt"

	"github.com/roach88/vmtier/internal/ir"
)

// MustBlock parses a block in textual IR syntax and panics on error.
func MustBlock(start ir.GuestAddr, term string, ops ...string) *ir.Block {
	b, err := ir.ParseBlock(start, ops, term)
	if err != nil {
		panic(fmt.Sprintf("testutil.MustBlock: %v", err))
	}
	return b
}

// AddBlock returns the canonical three-op block at start:
//
//	movi r1, 10
//	movi r2, 20
//	add r3, r1, r2
func AddBlock(start ir.GuestAddr) *ir.Block {
	return &ir.Block{
		StartPC: start,
		Ops: []ir.Op{
			ir.MovImm(1, 10),
			ir.MovImm(2, 20),
			ir.Binary(ir.OpAdd, 3, 1, 2),
		},
		Term: ir.Terminator{Kind: ir.TermRet},
	}
}

// LoopBlock returns a block containing one branch/jump loop region with a
// hoistable constant inside.
func LoopBlock(start ir.GuestAddr) *ir.Block {
	return MustBlock(start, "ret",
		"movi r1, 0",
		"brc r5, 0x40",
		"add r1, r1, r6",
		"movi r7, 42",
		"st r1, [r2+0]",
		fmt.Sprintf("jmp %s", start),
	)
}
