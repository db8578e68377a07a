package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/runtime"
)

// runTierup executes the tierup workload and returns its env with the
// runtime still open, so assertions can inspect cache state.
func runTierup(t *testing.T) (*Env, *Result) {
	t.Helper()
	w, err := LoadWorkload("testdata/workloads/tierup.yaml")
	require.NoError(t, err)

	env, err := NewEnv(w)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	ctx := context.Background()
	result := NewResult()
	for _, step := range w.Trace {
		b := env.Blocks[ir.GuestAddr(step.Block)]
		for i := 0; i < step.Times(); i++ {
			result.Executions = append(result.Executions, env.Runtime.ExecuteBlock(ctx, b))
		}
	}
	result.Report = env.Runtime.GenerateReport(10)
	for addr := range env.Blocks {
		if stats, ok := env.Runtime.GetBlockStats(addr); ok {
			result.Blocks[addr] = stats
		}
	}
	return env, result
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	env, result := runTierup(t)

	assertions := []Assertion{
		{Type: AssertMode, Block: 0x1000, Expect: "aot"},
		{Type: AssertMode, Block: 0x2000, Expect: "interp"},
		{Type: AssertCount, Block: 0x2000, Value: 4},
		{Type: AssertCount, Block: 0x9999, Value: 0},
		{Type: AssertTier, Block: 0x1000, Expect: "l3"},
		{Type: AssertTier, Block: 0x2000, Expect: "none"},
		{Type: AssertCompiled, Block: 0x1000, Expect: "AOT"},
		{Type: AssertCompiled, Block: 0x2000, Expect: "none"},
		{Type: AssertStat, Stat: "total_executions", Value: 12},
		{Type: AssertStat, Stat: "interpreter_executions", Value: 7},
		{Type: AssertStat, Stat: "invalidations", Value: 0},
	}
	assert.Empty(t, EvaluateAssertions(env, result, assertions))
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	env, result := runTierup(t)

	tests := []struct {
		name      string
		assertion Assertion
		want      []string
	}{
		{
			name:      "wrong mode",
			assertion: Assertion{Type: AssertMode, Block: 0x1000, Expect: "jit"},
			want: []string{
				"Assertion failed: mode",
				"Expected: block 0x1000 in mode jit",
				"Actual: aot",
				"[8] 0x1000 aot ok",
			},
		},
		{
			name:      "never executed",
			assertion: Assertion{Type: AssertMode, Block: 0x3000, Expect: "jit"},
			want:      []string{"Actual: never executed"},
		},
		{
			name:      "wrong count",
			assertion: Assertion{Type: AssertCount, Block: 0x2000, Value: 5},
			want: []string{
				"Expected: block 0x2000 executed 5 times",
				"Actual: 4 executions",
				"[4] 0x2000 interpreter failed:",
			},
		},
		{
			name:      "wrong tier",
			assertion: Assertion{Type: AssertTier, Block: 0x1000, Expect: "l1"},
			want:      []string{"Expected: block 0x1000 cached in l1", "Actual: l3"},
		},
		{
			name:      "not compiled",
			assertion: Assertion{Type: AssertCompiled, Block: 0x2000, Expect: "jit"},
			want:      []string{"Expected: block 0x2000 compiled as jit", "Actual: none"},
		},
		{
			name:      "wrong stat",
			assertion: Assertion{Type: AssertStat, Stat: "upgrades", Value: 3},
			want:      []string{"Expected: upgrades = 3", "Actual: upgrades = 2"},
		},
		{
			name:      "unknown stat",
			assertion: Assertion{Type: AssertStat, Stat: "speed"},
			want:      []string{`assertion[0]: unknown stat "speed"`},
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "frob"},
			want:      []string{`assertion[0]: unknown assertion type "frob"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(env, result, []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			for _, w := range tt.want {
				assert.Contains(t, errs[0], w)
			}
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMode,
		Expected: "block 0x10 in mode jit",
		Actual:   "interpreter",
		Trace: []runtime.ExecutionResult{
			{BlockID: 0x10, Success: true},
			{BlockID: 0x10, Success: false, ErrorMessage: "boom"},
		},
	}

	want := "Assertion failed: mode\n" +
		"  Expected: block 0x10 in mode jit\n" +
		"  Actual: interpreter\n" +
		"\nExecutions:\n" +
		"  [1] 0x10 interpreter ok\n" +
		"  [2] 0x10 interpreter failed: boom\n"
	assert.Equal(t, want, err.Error())
}

func TestStatNames(t *testing.T) {
	names := StatNames()
	assert.Len(t, names, 10)
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "artifact_loads")
}
