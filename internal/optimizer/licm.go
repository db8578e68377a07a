package optimizer

import "github.com/roach88/vmtier/internal/ir"

// Region is a loop approximation: the closed op index range from a
// conditional branch to the next unconditional jump that pairs with it.
type Region struct {
	Start int
	End   int
}

// LICMResult reports what HoistInvariants did.
type LICMResult struct {
	Loops   int
	Hoisted int
}

// findRegions pairs each unconditional jump with the most recent unpaired
// conditional branch. Well-nested code yields innermost regions first. This
// is not a dominator-based loop analysis.
func findRegions(ops []ir.Op) []Region {
	var regions []Region
	var stack []int
	for i, op := range ops {
		switch op.Code {
		case ir.OpBranchCond:
			stack = append(stack, i)
		case ir.OpJump:
			if n := len(stack); n > 0 {
				regions = append(regions, Region{Start: stack[n-1], End: i})
				stack = stack[:n-1]
			}
		}
	}
	return regions
}

// hoistable reports whether op is a constant materialization or simple arithmetic.
func hoistable(op ir.Op) bool {
	switch op.Code {
	case ir.OpMovImm, ir.OpMov, ir.OpAdd, ir.OpSub, ir.OpMul,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		return true
	}
	return false
}

// HoistInvariants moves loop-invariant ops to immediately before their region.
//
// Within a region, a hoistable op is invariant iff no op in the region reads
// its destination. Invariant ops keep their relative order. Hoisting permutes
// ops inside [Start, End] only, so the indices of later regions stay valid.
func HoistInvariants(ops []ir.Op) ([]ir.Op, LICMResult) {
	regions := findRegions(ops)
	res := LICMResult{Loops: len(regions)}

	for _, reg := range regions {
		body := ops[reg.Start : reg.End+1]

		read := make(map[ir.Reg]struct{})
		for _, op := range body {
			for _, r := range op.Uses() {
				read[r] = struct{}{}
			}
		}

		hoisted := make([]ir.Op, 0, len(body))
		rest := make([]ir.Op, 0, len(body))
		for _, op := range body {
			if hoistable(op) {
				if _, used := read[op.Dst]; !used {
					hoisted = append(hoisted, op)
					continue
				}
			}
			rest = append(rest, op)
		}
		if len(hoisted) == 0 {
			continue
		}

		res.Hoisted += len(hoisted)
		copy(body, hoisted)
		copy(body[len(hoisted):], rest)
	}
	return ops, res
}

// Regions returns the loop regions HoistInvariants would operate on.
func Regions(ops []ir.Op) []Region {
	return findRegions(ops)
}
