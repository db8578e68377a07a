package optimizer

import "github.com/roach88/vmtier/internal/ir"

// FoldConstants replaces ops whose operands are all known constants with a
// constant materialization. It returns the rewritten ops and the fold count.
//
// The scan is forward over straight-line code. A register stops being known
// as soon as a non-foldable op writes it. Div and Rem are never folded since
// division by zero must fault at run time.
//
// Loop regions are not modelled here, unlike EliminateDeadCode: the body is
// folded as if it ran once. A loop counter such as add r1, r1, r2 with both
// operands known on entry becomes a constant, which HoistInvariants may then
// move out of the region at LevelHigh. Callers that need iteration-exact
// results keep the counter's inputs unknown or run at LevelNone.
func FoldConstants(ops []ir.Op) ([]ir.Op, int) {
	known := make(map[ir.Reg]int64)
	folds := 0

	for i, op := range ops {
		switch {
		case op.Code == ir.OpMovImm:
			known[op.Dst] = op.Imm
			continue

		case op.Code == ir.OpMov:
			if v, ok := known[op.Src1]; ok {
				ops[i] = ir.MovImm(op.Dst, v)
				known[op.Dst] = v
				folds++
				continue
			}

		case op.Code.IsBinary():
			a, okA := known[op.Src1]
			b, okB := known[op.Src2]
			if okA && okB {
				if v, ok := evalBinary(op.Code, a, b); ok {
					ops[i] = ir.MovImm(op.Dst, v)
					known[op.Dst] = v
					folds++
					continue
				}
			}
		}

		if d, ok := op.Def(); ok {
			delete(known, d)
		}
	}
	return ops, folds
}

// evalBinary computes a foldable binary op with 64-bit wrapping semantics.
func evalBinary(code ir.Opcode, a, b int64) (int64, bool) {
	ua, ub := uint64(a), uint64(b)
	switch code {
	case ir.OpAdd:
		return int64(ua + ub), true
	case ir.OpSub:
		return int64(ua - ub), true
	case ir.OpMul:
		return int64(ua * ub), true
	case ir.OpAnd:
		return a & b, true
	case ir.OpOr:
		return a | b, true
	case ir.OpXor:
		return a ^ b, true
	case ir.OpShl:
		return int64(ua << (ub & 63)), true
	case ir.OpShr:
		return int64(ua >> (ub & 63)), true
	case ir.OpCmpEq:
		return boolToInt(a == b), true
	case ir.OpCmpLt:
		return boolToInt(a < b), true
	}
	return 0, false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
