package ir

import "fmt"

// GuestAddr is a guest virtual address. Blocks are identified by their start address.
type GuestAddr uint64

// String renders the address in hex, matching the textual IR syntax.
func (a GuestAddr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Reg is a virtual register number.
type Reg uint32

// String renders the register as rN.
func (r Reg) String() string {
	return fmt.Sprintf("r%d", uint32(r))
}

// Opcode discriminates IR operations.
type Opcode uint8

const (
	OpNop Opcode = iota
	// OpMovImm materializes Imm into Dst.
	OpMovImm
	// OpMov copies Src1 into Dst.
	OpMov
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmpEq
	OpCmpLt
	// OpLoad reads Size bytes at [Src1+Offset] into Dst.
	OpLoad
	// OpStore writes Src1 to [Src2+Offset].
	OpStore
	// OpBranchCond jumps to Target when Src1 is non-zero.
	OpBranchCond
	// OpJump jumps unconditionally to Target.
	OpJump
	// OpCall invokes the guest function FuncID. Body substitution is the backend's job.
	OpCall
)

var opcodeNames = [...]string{
	OpNop:        "nop",
	OpMovImm:     "movi",
	OpMov:        "mov",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDiv:        "div",
	OpRem:        "rem",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpShl:        "shl",
	OpShr:        "shr",
	OpCmpEq:      "cmpeq",
	OpCmpLt:      "cmplt",
	OpLoad:       "ld",
	OpStore:      "st",
	OpBranchCond: "brc",
	OpJump:       "jmp",
	OpCall:       "call",
}

// String returns the mnemonic used by the textual IR syntax.
func (c Opcode) String() string {
	if int(c) < len(opcodeNames) {
		return opcodeNames[c]
	}
	return fmt.Sprintf("op(%d)", uint8(c))
}

// IsBinary reports whether the opcode reads Src1 and Src2 and writes Dst.
func (c Opcode) IsBinary() bool {
	switch c {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr, OpCmpEq, OpCmpLt:
		return true
	}
	return false
}

// IsControl reports whether the opcode transfers control.
func (c Opcode) IsControl() bool {
	return c == OpBranchCond || c == OpJump || c == OpCall
}

// Category groups opcodes by their scheduling cost class.
type Category uint8

const (
	CategoryALU Category = iota
	CategoryMultiply
	CategoryDivide
	CategoryLoad
	CategoryStore
	CategoryControl
)

func (c Category) String() string {
	switch c {
	case CategoryALU:
		return "alu"
	case CategoryMultiply:
		return "mul"
	case CategoryDivide:
		return "div"
	case CategoryLoad:
		return "load"
	case CategoryStore:
		return "store"
	case CategoryControl:
		return "control"
	}
	return "unknown"
}

// Op is a single IR operation.
//
// Field meaning depends on Code; unused fields are zero. Ops are plain values
// and safe to copy.
type Op struct {
	Code   Opcode
	Dst    Reg
	Src1   Reg
	Src2   Reg
	Imm    int64
	Offset int64
	Size   uint8
	Target GuestAddr
	FuncID uint64
}

// MovImm builds a constant materialization.
func MovImm(dst Reg, imm int64) Op {
	return Op{Code: OpMovImm, Dst: dst, Imm: imm}
}

// Mov builds a register copy.
func Mov(dst, src Reg) Op {
	return Op{Code: OpMov, Dst: dst, Src1: src}
}

// Binary builds a two-operand arithmetic, bitwise, shift or compare op.
func Binary(code Opcode, dst, a, b Reg) Op {
	return Op{Code: code, Dst: dst, Src1: a, Src2: b}
}

// Load builds a memory read of size bytes from [base+offset].
func Load(dst, base Reg, offset int64, size uint8) Op {
	return Op{Code: OpLoad, Dst: dst, Src1: base, Offset: offset, Size: size}
}

// Store builds a memory write of value to [base+offset].
func Store(value, base Reg, offset int64, size uint8) Op {
	return Op{Code: OpStore, Src1: value, Src2: base, Offset: offset, Size: size}
}

// BranchCond builds a conditional branch on cond.
func BranchCond(cond Reg, target GuestAddr) Op {
	return Op{Code: OpBranchCond, Src1: cond, Target: target}
}

// Jump builds an unconditional jump.
func Jump(target GuestAddr) Op {
	return Op{Code: OpJump, Target: target}
}

// Call builds a call to a guest function; the result lands in dst.
func Call(dst Reg, fn uint64) Op {
	return Op{Code: OpCall, Dst: dst, FuncID: fn}
}

// Def returns the register written by the op, if any.
func (o Op) Def() (Reg, bool) {
	switch {
	case o.Code == OpMovImm, o.Code == OpMov, o.Code == OpLoad, o.Code == OpCall:
		return o.Dst, true
	case o.Code.IsBinary():
		return o.Dst, true
	}
	return 0, false
}

// Uses returns the registers read by the op, in operand order.
func (o Op) Uses() []Reg {
	switch {
	case o.Code == OpMov, o.Code == OpLoad, o.Code == OpBranchCond:
		return []Reg{o.Src1}
	case o.Code == OpStore:
		return []Reg{o.Src1, o.Src2}
	case o.Code.IsBinary():
		return []Reg{o.Src1, o.Src2}
	}
	return nil
}

// HasSideEffect reports whether the op must be kept regardless of liveness.
func (o Op) HasSideEffect() bool {
	return o.Code == OpStore || o.Code.IsControl()
}

// Category returns the op's cost class.
func (o Op) Category() Category {
	switch o.Code {
	case OpMul:
		return CategoryMultiply
	case OpDiv, OpRem:
		return CategoryDivide
	case OpLoad:
		return CategoryLoad
	case OpStore:
		return CategoryStore
	case OpBranchCond, OpJump, OpCall:
		return CategoryControl
	}
	return CategoryALU
}

// TermKind discriminates block terminators.
type TermKind uint8

const (
	// TermRet returns to the dispatcher.
	TermRet TermKind = iota
	// TermJmp continues at Target.
	TermJmp
	// TermCondJmp continues at Target when Cond is non-zero, else at Fallthrough.
	TermCondJmp
	// TermFault raises a guest exception.
	TermFault
)

func (k TermKind) String() string {
	switch k {
	case TermRet:
		return "ret"
	case TermJmp:
		return "jmp"
	case TermCondJmp:
		return "cjmp"
	case TermFault:
		return "fault"
	}
	return fmt.Sprintf("term(%d)", uint8(k))
}

// Terminator ends a block.
type Terminator struct {
	Kind        TermKind
	Target      GuestAddr
	Fallthrough GuestAddr
	Cond        Reg
}

// Uses returns the registers the terminator reads.
func (t Terminator) Uses() []Reg {
	if t.Kind == TermCondJmp {
		return []Reg{t.Cond}
	}
	return nil
}

// Block is a straight-line op sequence plus a terminator, identified by StartPC.
type Block struct {
	StartPC GuestAddr
	Ops     []Op
	Term    Terminator
}

// Clone returns a deep copy whose op slice can be rewritten freely.
func (b *Block) Clone() *Block {
	ops := make([]Op, len(b.Ops))
	copy(ops, b.Ops)
	return &Block{StartPC: b.StartPC, Ops: ops, Term: b.Term}
}

// Len returns the number of ops, excluding the terminator.
func (b *Block) Len() int {
	return len(b.Ops)
}
