// Package optimizer rewrites IR blocks before code generation.
//
// Passes run in a fixed order: constant folding, dead-code elimination,
// the inlining gate over call sites, then loop-invariant code motion. Each
// pass is enabled by the optimization level:
//
//	None   no passes
//	Basic  folding, DCE
//	Medium folding, DCE, inlining gate
//	High   folding, DCE, inlining gate, LICM
//
// An Optimizer is a single compilation unit. It is not safe for concurrent
// use; callers that compile in parallel create one per compile and merge the
// resulting Stats.
package optimizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/vmtier/internal/ir"
)

// Level selects which passes run.
type Level int

const (
	LevelNone Level = iota
	LevelBasic
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelBasic:
		return "basic"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts a level name or its numeric value 0-3.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return LevelNone, nil
	case "basic", "1":
		return LevelBasic, nil
	case "medium", "2":
		return LevelMedium, nil
	case "high", "3":
		return LevelHigh, nil
	}
	return 0, fmt.Errorf("unknown optimization level %q", s)
}

// LevelFromInt clamps n into the valid level range.
func LevelFromInt(n int) Level {
	switch {
	case n <= 0:
		return LevelNone
	case n >= int(LevelHigh):
		return LevelHigh
	}
	return Level(n)
}

func (l Level) foldEnabled() bool {
	return l >= LevelBasic
}

func (l Level) dceEnabled() bool {
	return l >= LevelBasic
}

func (l Level) inlineEnabled() bool {
	return l >= LevelMedium
}

func (l Level) licmEnabled() bool {
	return l >= LevelHigh
}

// Stats accumulates pass counters across OptimizeBlock calls.
type Stats struct {
	Blocks     uint64        `json:"blocks"`
	ConstFolds uint64        `json:"const_folds"`
	DCEOps     uint64        `json:"dce_ops"`
	LICMHoists uint64        `json:"licm_hoists"`
	Loops      uint64        `json:"loops"`
	Inline     InlineStats   `json:"inline"`
	TotalTime  time.Duration `json:"total_time_ns"`
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.Blocks += o.Blocks
	s.ConstFolds += o.ConstFolds
	s.DCEOps += o.DCEOps
	s.LICMHoists += o.LICMHoists
	s.Loops += o.Loops
	s.Inline.Inlines += o.Inline.Inlines
	s.Inline.SkippedTooLarge += o.Inline.SkippedTooLarge
	s.Inline.SkippedRecursive += o.Inline.SkippedRecursive
	s.TotalTime += o.TotalTime
}

// FuncSizer reports the IR size of a guest function, if known.
type FuncSizer func(fn uint64) (size int, ok bool)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLiveOut marks registers as live at block exit for DCE.
func WithLiveOut(regs ...ir.Reg) Option {
	return func(o *Optimizer) {
		o.liveOut = append(o.liveOut, regs...)
	}
}

// WithPreserveOutputs treats every register written in the block as live at
// exit, so DCE only removes writes that are overwritten before block end.
func WithPreserveOutputs() Option {
	return func(o *Optimizer) {
		o.preserveOutputs = true
	}
}

// WithInlineThreshold sets the maximum inlinable function size.
func WithInlineThreshold(n int) Option {
	return func(o *Optimizer) {
		o.inliner = NewInliner(n)
	}
}

// WithFuncSizer supplies callee sizes for the inlining gate. Calls to
// functions the sizer does not know are left alone.
func WithFuncSizer(f FuncSizer) Option {
	return func(o *Optimizer) {
		o.sizer = f
	}
}

// WithUnrollThreshold sets the loop unroll gate threshold.
func WithUnrollThreshold(n int) Option {
	return func(o *Optimizer) {
		o.unrollThreshold = n
	}
}

// Default thresholds.
const (
	DefaultInlineThreshold = 100
	DefaultUnrollThreshold = 4
)

// Optimizer runs the pass pipeline for one compilation unit.
type Optimizer struct {
	level           Level
	liveOut         []ir.Reg
	preserveOutputs bool
	inliner         *Inliner
	sizer           FuncSizer
	unrollThreshold int
	stats           Stats
}

// New creates an Optimizer at the given level.
func New(level Level, opts ...Option) *Optimizer {
	o := &Optimizer{
		level:           level,
		inliner:         NewInliner(DefaultInlineThreshold),
		unrollThreshold: DefaultUnrollThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Level returns the configured level.
func (o *Optimizer) Level() Level {
	return o.level
}

// Inliner exposes the unit's inlining gate.
func (o *Optimizer) Inliner() *Inliner {
	return o.inliner
}

// OptimizeBlock rewrites b in place.
func (o *Optimizer) OptimizeBlock(b *ir.Block) {
	start := time.Now()
	o.stats.Blocks++

	if o.level.foldEnabled() {
		var n int
		b.Ops, n = FoldConstants(b.Ops)
		o.stats.ConstFolds += uint64(n)
	}

	if o.level.dceEnabled() {
		var n int
		b.Ops, n = EliminateDeadCode(b.Ops, o.exitLive(b))
		o.stats.DCEOps += uint64(n)
	}

	if o.level.inlineEnabled() && o.sizer != nil {
		o.gateCalls(b)
	}

	if o.level.licmEnabled() {
		var res LICMResult
		b.Ops, res = HoistInvariants(b.Ops)
		o.stats.LICMHoists += uint64(res.Hoisted)
		o.stats.Loops += uint64(res.Loops)
	}

	o.stats.TotalTime += time.Since(start)
}

// ShouldUnroll reports whether a loop with a known trip count is small enough to unroll.
func (o *Optimizer) ShouldUnroll(iterations int) bool {
	return iterations > 0 && iterations <= o.unrollThreshold
}

// Stats returns pass counters including the inliner's.
func (o *Optimizer) Stats() Stats {
	s := o.stats
	s.Inline = o.inliner.Stats()
	return s
}

func (o *Optimizer) exitLive(b *ir.Block) []ir.Reg {
	live := append([]ir.Reg(nil), o.liveOut...)
	live = append(live, b.Term.Uses()...)
	if o.preserveOutputs {
		for _, op := range b.Ops {
			if d, ok := op.Def(); ok {
				live = append(live, d)
			}
		}
	}
	return live
}

func (o *Optimizer) gateCalls(b *ir.Block) {
	for _, op := range b.Ops {
		if op.Code != ir.OpCall {
			continue
		}
		size, ok := o.sizer(op.FuncID)
		if !ok {
			continue
		}
		if o.inliner.ShouldInline(op.FuncID, size) {
			o.inliner.RecordInline(op.FuncID)
		}
	}
}
