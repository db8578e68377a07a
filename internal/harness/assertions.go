package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/runtime"
)

// AssertionError is returned when an assertion fails.
// It includes the execution trace of the block involved to help debugging.
type AssertionError struct {
	Type     string                    // Assertion type for categorization
	Expected string                    // Human-readable expected outcome
	Actual   string                    // Human-readable actual outcome
	Trace    []runtime.ExecutionResult // Executions of the asserted block
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nExecutions:\n")
		for i, ex := range e.Trace {
			status := "ok"
			if !ex.Success {
				status = "failed: " + ex.ErrorMessage
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", i+1, ex.BlockID, ex.Mode, status)
		}
	}

	return buf.String()
}

// statFields maps stat assertion names to execution counters.
var statFields = map[string]func(runtime.ExecutionStats) uint64{
	"total_executions":       func(s runtime.ExecutionStats) uint64 { return s.TotalExecutions },
	"interpreter_executions": func(s runtime.ExecutionStats) uint64 { return s.InterpreterExecutions },
	"jit_executions":         func(s runtime.ExecutionStats) uint64 { return s.JITExecutions },
	"aot_executions":         func(s runtime.ExecutionStats) uint64 { return s.AOTExecutions },
	"compilations":           func(s runtime.ExecutionStats) uint64 { return s.Compilations },
	"compile_failures":       func(s runtime.ExecutionStats) uint64 { return s.CompileFailures },
	"artifact_loads":         func(s runtime.ExecutionStats) uint64 { return s.ArtifactLoads },
	"upgrades":               func(s runtime.ExecutionStats) uint64 { return s.Upgrades },
	"failed_upgrades":        func(s runtime.ExecutionStats) uint64 { return s.FailedUpgrades },
	"invalidations":          func(s runtime.ExecutionStats) uint64 { return s.Invalidations },
}

// StatNames returns the names accepted by stat assertions, sorted.
func StatNames() []string {
	names := make([]string, 0, len(statFields))
	for name := range statFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// executionsOf filters the trace to one block.
func executionsOf(result *Result, addr ir.GuestAddr) []runtime.ExecutionResult {
	var out []runtime.ExecutionResult
	for _, ex := range result.Executions {
		if ex.BlockID == addr {
			out = append(out, ex)
		}
	}
	return out
}

// assertMode checks the block's recorded execution mode.
func assertMode(result *Result, a Assertion) error {
	addr := ir.GuestAddr(a.Block)
	want, _ := policy.ParseMode(a.Expect)

	actual := "never executed"
	if stats, ok := result.Blocks[addr]; ok {
		if stats.CurrentMode == want {
			return nil
		}
		actual = stats.CurrentMode.String()
	}
	return &AssertionError{
		Type:     AssertMode,
		Expected: fmt.Sprintf("block %s in mode %s", addr, want),
		Actual:   actual,
		Trace:    executionsOf(result, addr),
	}
}

// assertCount checks the block's execution count.
func assertCount(result *Result, a Assertion) error {
	addr := ir.GuestAddr(a.Block)
	stats := result.Blocks[addr]
	if stats.ExecutionCount == a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertCount,
		Expected: fmt.Sprintf("block %s executed %d times", addr, a.Value),
		Actual:   fmt.Sprintf("%d executions", stats.ExecutionCount),
		Trace:    executionsOf(result, addr),
	}
}

// assertTier checks which code cache tier holds the block.
func assertTier(env *Env, result *Result, a Assertion) error {
	addr := ir.GuestAddr(a.Block)
	actual := "none"
	if tier, ok := env.Runtime.CodeCache().TierOf(addr); ok {
		actual = tier.String()
	}
	if actual == a.Expect {
		return nil
	}
	return &AssertionError{
		Type:     AssertTier,
		Expected: fmt.Sprintf("block %s cached in %s", addr, a.Expect),
		Actual:   actual,
		Trace:    executionsOf(result, addr),
	}
}

// assertCompiled checks the mode of the block's installed code.
func assertCompiled(env *Env, result *Result, a Assertion) error {
	addr := ir.GuestAddr(a.Block)
	actual := "none"
	if cb, ok := env.Runtime.CompiledBlock(addr); ok {
		actual = cb.Mode.String()
	}
	want := a.Expect
	if want != "none" {
		m, _ := policy.ParseMode(want)
		want = m.String()
	}
	if actual == want {
		return nil
	}
	return &AssertionError{
		Type:     AssertCompiled,
		Expected: fmt.Sprintf("block %s compiled as %s", addr, want),
		Actual:   actual,
		Trace:    executionsOf(result, addr),
	}
}

// assertStat checks an aggregate execution counter.
func assertStat(result *Result, a Assertion) error {
	actual := statFields[a.Stat](result.Report.Execution)
	if actual == a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertStat,
		Expected: fmt.Sprintf("%s = %d", a.Stat, a.Value),
		Actual:   fmt.Sprintf("%s = %d", a.Stat, actual),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(env *Env, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertMode:
			err = assertMode(result, a)
		case AssertCount:
			err = assertCount(result, a)
		case AssertTier:
			err = assertTier(env, result, a)
		case AssertCompiled:
			err = assertCompiled(env, result, a)
		case AssertStat:
			if _, ok := statFields[a.Stat]; !ok {
				err = fmt.Errorf("assertion[%d]: unknown stat %q", i, a.Stat)
				break
			}
			err = assertStat(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
