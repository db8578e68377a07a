package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vmtier/internal/report"
)

// Snapshot captures a workload run for golden comparison: the mode and
// outcome of every execution in order, followed by the final report.
// Error messages are left out so backend wording can change freely.
func Snapshot(name string, result *Result) report.Object {
	trace := make(report.Array, 0, len(result.Executions))
	for _, ex := range result.Executions {
		trace = append(trace, report.Object{
			"block":   report.String(ex.BlockID.String()),
			"mode":    report.String(ex.Mode.String()),
			"success": report.Bool(ex.Success),
		})
	}
	return report.Object{
		"workload": report.String(name),
		"trace":    trace,
		"report":   report.Snapshot(result.Report),
	}
}

// RunWithGolden executes a workload and compares its snapshot against a
// golden file stored in testdata/golden/{w.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the workload cannot run.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, w *Workload, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(w, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, w.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the workload.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := report.MarshalCanonical(Snapshot(name, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)

	return nil
}
