// Package policy maps per-block execution counts to execution tiers.
//
// The tiers form a strictly monotonic state machine:
//
//	Interpreter -> JIT -> AOT
//
// AOT is terminal. Nothing in this package downgrades a block; cache
// eviction elsewhere never changes the recorded mode.
package policy

import (
	"fmt"
	"strings"
)

// Mode is an execution tier.
type Mode uint8

const (
	ModeInterpreter Mode = iota
	ModeJIT
	ModeAOT
)

// Modes lists every tier in upgrade order.
var Modes = []Mode{ModeInterpreter, ModeJIT, ModeAOT}

func (m Mode) String() string {
	switch m {
	case ModeInterpreter:
		return "interpreter"
	case ModeJIT:
		return "jit"
	case ModeAOT:
		return "aot"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Compiled reports whether the mode runs native code.
func (m Mode) Compiled() bool {
	return m == ModeJIT || m == ModeAOT
}

// Next returns the tier above m. AOT returns itself.
func (m Mode) Next() Mode {
	if m >= ModeAOT {
		return ModeAOT
	}
	return m + 1
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interpreter", "interp":
		return ModeInterpreter, nil
	case "jit":
		return ModeJIT, nil
	case "aot":
		return ModeAOT, nil
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Default policy values.
const (
	DefaultJITThreshold              = 10
	DefaultAOTThreshold              = 100
	DefaultAOTOptLevel               = 2
	DefaultMaxConcurrentCompilations = 4
)

// Policy holds the tiering thresholds. It is a plain value; DecideMode and
// ShouldUpgrade are pure functions of the receiver and their arguments.
type Policy struct {
	// InterpreterThreshold is informational; counts below JITThreshold interpret.
	InterpreterThreshold uint64
	JITThreshold         uint64
	AOTThreshold         uint64

	// AOTOptLevel is the optimizer level (0-3) used for AOT compiles.
	AOTOptLevel int

	// EnablePGO seeds block counts from a persisted execution profile.
	EnablePGO bool

	// MaxConcurrentCompilations bounds background upgrade compiles.
	MaxConcurrentCompilations int
}

// Default returns the standard policy.
func Default() Policy {
	return Policy{
		InterpreterThreshold:      0,
		JITThreshold:              DefaultJITThreshold,
		AOTThreshold:              DefaultAOTThreshold,
		AOTOptLevel:               DefaultAOTOptLevel,
		EnablePGO:                 false,
		MaxConcurrentCompilations: DefaultMaxConcurrentCompilations,
	}
}

// Validate checks threshold ordering and limits.
func (p Policy) Validate() error {
	if p.JITThreshold > p.AOTThreshold {
		return fmt.Errorf("jit_threshold (%d) exceeds aot_threshold (%d)", p.JITThreshold, p.AOTThreshold)
	}
	if p.AOTOptLevel < 0 || p.AOTOptLevel > 3 {
		return fmt.Errorf("aot_opt_level must be in [0,3], got %d", p.AOTOptLevel)
	}
	if p.MaxConcurrentCompilations < 1 {
		return fmt.Errorf("max_concurrent_compilations must be >= 1, got %d", p.MaxConcurrentCompilations)
	}
	return nil
}

// DecideMode returns the tier a block with the given count should run in.
// Ties resolve toward the higher tier.
func (p Policy) DecideMode(count uint64) Mode {
	switch {
	case count >= p.AOTThreshold:
		return ModeAOT
	case count >= p.JITThreshold:
		return ModeJIT
	default:
		return ModeInterpreter
	}
}

// ShouldUpgrade reports whether a block currently in mode has earned the next tier.
func (p Policy) ShouldUpgrade(mode Mode, count uint64) bool {
	switch mode {
	case ModeInterpreter:
		return count >= p.JITThreshold
	case ModeJIT:
		return count >= p.AOTThreshold
	default:
		return false
	}
}
