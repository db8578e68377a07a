package optimizer

import "github.com/roach88/vmtier/internal/ir"

// EliminateDeadCode drops register-defining ops whose result is never read.
// It returns the surviving ops and the number removed.
//
// Single backward scan with a live set seeded from exitLive. Stores and
// control ops are always kept. A defining op survives iff its destination
// is live; a survivor kills its destination and makes its sources live.
// Nops are always dropped.
//
// When the scan enters a loop region (see HoistInvariants) from its end, every
// register read anywhere in the region becomes live, so values carried around
// the back edge are not mistaken for dead.
func EliminateDeadCode(ops []ir.Op, exitLive []ir.Reg) ([]ir.Op, int) {
	live := make(map[ir.Reg]struct{}, len(exitLive))
	for _, r := range exitLive {
		live[r] = struct{}{}
	}

	loopUses := make(map[int][]ir.Reg)
	for _, reg := range findRegions(ops) {
		for _, op := range ops[reg.Start : reg.End+1] {
			loopUses[reg.End] = append(loopUses[reg.End], op.Uses()...)
		}
	}

	keep := make([]bool, len(ops))
	removed := 0
	for i := len(ops) - 1; i >= 0; i-- {
		for _, r := range loopUses[i] {
			live[r] = struct{}{}
		}

		op := ops[i]
		if op.Code == ir.OpNop {
			removed++
			continue
		}

		d, defines := op.Def()
		if op.HasSideEffect() {
			keep[i] = true
			if defines {
				delete(live, d)
			}
			for _, r := range op.Uses() {
				live[r] = struct{}{}
			}
			continue
		}

		if !defines {
			keep[i] = true
			continue
		}

		if _, ok := live[d]; !ok {
			removed++
			continue
		}
		keep[i] = true
		delete(live, d)
		for _, r := range op.Uses() {
			live[r] = struct{}{}
		}
	}

	if removed == 0 {
		return ops, 0
	}
	out := make([]ir.Op, 0, len(ops)-removed)
	for i, op := range ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	return out, removed
}
