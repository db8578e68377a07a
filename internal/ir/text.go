package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Textual syntax, one op per line:
//
//	movi r1, 10          mov r2, r1           add r3, r1, r2
//	ld r4, [r3+8]        ld.4 r4, [r3-4]      st r4, [r3+0]
//	brc r1, 0x40         jmp 0x20             call r5, 7
//	nop
//
// Terminators: ret | jmp 0x1000 | cjmp r1, 0x10, 0x20 | fault

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for code, name := range opcodeNames {
		m[name] = Opcode(code)
	}
	return m
}()

// String renders the op in textual syntax; ParseOp(o.String()) == o.
func (o Op) String() string {
	switch {
	case o.Code == OpNop:
		return "nop"
	case o.Code == OpMovImm:
		return fmt.Sprintf("movi %s, %d", o.Dst, o.Imm)
	case o.Code == OpMov:
		return fmt.Sprintf("mov %s, %s", o.Dst, o.Src1)
	case o.Code.IsBinary():
		return fmt.Sprintf("%s %s, %s, %s", o.Code, o.Dst, o.Src1, o.Src2)
	case o.Code == OpLoad:
		return fmt.Sprintf("%s %s, %s", sized("ld", o.Size), o.Dst, memOperand(o.Src1, o.Offset))
	case o.Code == OpStore:
		return fmt.Sprintf("%s %s, %s", sized("st", o.Size), o.Src1, memOperand(o.Src2, o.Offset))
	case o.Code == OpBranchCond:
		return fmt.Sprintf("brc %s, %s", o.Src1, o.Target)
	case o.Code == OpJump:
		return fmt.Sprintf("jmp %s", o.Target)
	case o.Code == OpCall:
		return fmt.Sprintf("call %s, %d", o.Dst, o.FuncID)
	}
	return o.Code.String()
}

func sized(mn string, size uint8) string {
	if size == 0 || size == 8 {
		return mn
	}
	return fmt.Sprintf("%s.%d", mn, size)
}

func memOperand(base Reg, off int64) string {
	if off < 0 {
		return fmt.Sprintf("[%s-%d]", base, -off)
	}
	return fmt.Sprintf("[%s+%d]", base, off)
}

// String renders the terminator in textual syntax.
func (t Terminator) String() string {
	switch t.Kind {
	case TermJmp:
		return fmt.Sprintf("jmp %s", t.Target)
	case TermCondJmp:
		return fmt.Sprintf("cjmp %s, %s, %s", t.Cond, t.Target, t.Fallthrough)
	}
	return t.Kind.String()
}

// ParseOp parses one op in textual syntax.
func ParseOp(s string) (Op, error) {
	mn, args := splitInstr(s)
	size := uint8(8)
	if base, suffix, ok := strings.Cut(mn, "."); ok {
		n, err := strconv.ParseUint(suffix, 10, 8)
		if err != nil || (n != 1 && n != 2 && n != 4 && n != 8) {
			return Op{}, fmt.Errorf("parse op %q: invalid access size %q", s, suffix)
		}
		mn, size = base, uint8(n)
	}

	code, ok := mnemonics[mn]
	if !ok {
		return Op{}, fmt.Errorf("parse op %q: unknown mnemonic %q", s, mn)
	}

	p := &operandParser{src: s, args: args}
	var op Op
	switch {
	case code == OpNop:
		op = Op{Code: OpNop}
	case code == OpMovImm:
		op = MovImm(p.reg(), p.imm())
	case code == OpMov:
		op = Mov(p.reg(), p.reg())
	case code.IsBinary():
		op = Binary(code, p.reg(), p.reg(), p.reg())
	case code == OpLoad:
		dst := p.reg()
		base, off := p.mem()
		op = Load(dst, base, off, size)
	case code == OpStore:
		val := p.reg()
		base, off := p.mem()
		op = Store(val, base, off, size)
	case code == OpBranchCond:
		op = BranchCond(p.reg(), p.addr())
	case code == OpJump:
		op = Jump(p.addr())
	case code == OpCall:
		op = Call(p.reg(), uint64(p.imm()))
	}
	if err := p.finish(); err != nil {
		return Op{}, err
	}
	return op, nil
}

// ParseTerminator parses a block terminator.
func ParseTerminator(s string) (Terminator, error) {
	mn, args := splitInstr(s)
	p := &operandParser{src: s, args: args}
	var t Terminator
	switch mn {
	case "ret":
		t = Terminator{Kind: TermRet}
	case "fault":
		t = Terminator{Kind: TermFault}
	case "jmp":
		t = Terminator{Kind: TermJmp, Target: p.addr()}
	case "cjmp":
		t = Terminator{Kind: TermCondJmp, Cond: p.reg(), Target: p.addr(), Fallthrough: p.addr()}
	default:
		return Terminator{}, fmt.Errorf("parse terminator %q: unknown kind %q", s, mn)
	}
	if err := p.finish(); err != nil {
		return Terminator{}, err
	}
	return t, nil
}

// ParseBlock parses ops and a terminator into a block at start.
// An empty terminator string means ret.
func ParseBlock(start GuestAddr, ops []string, term string) (*Block, error) {
	b := &Block{StartPC: start, Ops: make([]Op, 0, len(ops))}
	for i, line := range ops {
		op, err := ParseOp(line)
		if err != nil {
			return nil, fmt.Errorf("block %s op %d: %w", start, i, err)
		}
		b.Ops = append(b.Ops, op)
	}
	if strings.TrimSpace(term) == "" {
		term = "ret"
	}
	t, err := ParseTerminator(term)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", start, err)
	}
	b.Term = t
	return b, nil
}

// ParseAddr parses a decimal or 0x-prefixed hex guest address.
func ParseAddr(s string) (GuestAddr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return GuestAddr(v), nil
}

func splitInstr(s string) (string, []string) {
	s = strings.TrimSpace(s)
	mn, rest, _ := strings.Cut(s, " ")
	var args []string
	for _, a := range strings.Split(rest, ",") {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return strings.ToLower(mn), args
}

// operandParser consumes operands left to right, keeping the first error.
type operandParser struct {
	src  string
	args []string
	pos  int
	err  error
}

func (p *operandParser) next(kind string) string {
	if p.err != nil {
		return ""
	}
	if p.pos >= len(p.args) {
		p.err = fmt.Errorf("parse %q: missing %s operand", p.src, kind)
		return ""
	}
	a := p.args[p.pos]
	p.pos++
	return a
}

func (p *operandParser) reg() Reg {
	a := p.next("register")
	if p.err != nil {
		return 0
	}
	r, err := parseReg(a)
	if err != nil {
		p.err = fmt.Errorf("parse %q: %w", p.src, err)
	}
	return r
}

func (p *operandParser) imm() int64 {
	a := p.next("immediate")
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(a, 0, 64)
	if err != nil {
		// Allow full-width hex such as 0xffffffffffffffff.
		u, uerr := strconv.ParseUint(a, 0, 64)
		if uerr != nil {
			p.err = fmt.Errorf("parse %q: invalid immediate %q", p.src, a)
			return 0
		}
		v = int64(u)
	}
	return v
}

func (p *operandParser) addr() GuestAddr {
	a := p.next("address")
	if p.err != nil {
		return 0
	}
	addr, err := ParseAddr(a)
	if err != nil {
		p.err = fmt.Errorf("parse %q: %w", p.src, err)
	}
	return addr
}

func (p *operandParser) mem() (Reg, int64) {
	a := p.next("memory")
	if p.err != nil {
		return 0, 0
	}
	if !strings.HasPrefix(a, "[") || !strings.HasSuffix(a, "]") {
		p.err = fmt.Errorf("parse %q: invalid memory operand %q", p.src, a)
		return 0, 0
	}
	inner := strings.TrimSpace(a[1 : len(a)-1])
	sign := int64(1)
	regPart, offPart := inner, ""
	if i := strings.IndexAny(inner, "+-"); i >= 0 {
		if inner[i] == '-' {
			sign = -1
		}
		regPart, offPart = strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+1:])
	}
	r, err := parseReg(regPart)
	if err != nil {
		p.err = fmt.Errorf("parse %q: %w", p.src, err)
		return 0, 0
	}
	var off int64
	if offPart != "" {
		off, err = strconv.ParseInt(offPart, 0, 64)
		if err != nil {
			p.err = fmt.Errorf("parse %q: invalid offset %q", p.src, offPart)
			return 0, 0
		}
	}
	return r, sign * off
}

func (p *operandParser) finish() error {
	if p.err != nil {
		return p.err
	}
	if p.pos != len(p.args) {
		return fmt.Errorf("parse %q: unexpected operand %q", p.src, p.args[p.pos])
	}
	return nil
}

func parseReg(s string) (Reg, error) {
	if len(s) < 2 || (s[0] != 'r' && s[0] != 'R') {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	return Reg(n), nil
}
