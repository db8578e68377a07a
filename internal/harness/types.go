package harness

import (
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/runtime"
)

// Result is the outcome of a workload run.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Executions holds one entry per block execution, in trace order.
	Executions []runtime.ExecutionResult `json:"executions"`

	// Report is the runtime report taken after the trace finished.
	Report runtime.Report `json:"report"`

	// Blocks holds the final statistics of every executed block.
	Blocks map[ir.GuestAddr]runtime.BlockExecution `json:"blocks"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Executions: []runtime.ExecutionResult{},
		Blocks:     make(map[ir.GuestAddr]runtime.BlockExecution),
		Errors:     []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Failures returns the executions that did not succeed.
func (r *Result) Failures() []runtime.ExecutionResult {
	var out []runtime.ExecutionResult
	for _, e := range r.Executions {
		if !e.Success {
			out = append(out, e)
		}
	}
	return out
}
