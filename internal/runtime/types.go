package runtime

import (
	"time"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// BlockExecution is a snapshot of one block's execution statistics.
type BlockExecution struct {
	BlockID            ir.GuestAddr  `json:"block_id"`
	ExecutionCount     uint64        `json:"execution_count"`
	CurrentMode        policy.Mode   `json:"current_mode"`
	LastExecutedAt     time.Time     `json:"last_executed_at"`
	TotalExecutionTime time.Duration `json:"total_execution_time_ns"`
}

// AvgExecutionTime returns the mean time per execution.
func (b BlockExecution) AvgExecutionTime() time.Duration {
	if b.ExecutionCount == 0 {
		return 0
	}
	return b.TotalExecutionTime / time.Duration(b.ExecutionCount)
}

// CompiledBlock is installed code for one block at one tier.
// It is immutable; a recompilation installs a new value. Seq orders
// compiles of the same block by start time.
type CompiledBlock struct {
	BlockID         ir.GuestAddr
	Hash            ir.BlockHash
	Seq             int64
	JobID           string
	CompiledAt      time.Time
	CompileDuration time.Duration
	Mode            policy.Mode
	Code            []byte
	CodeSize        int
}

// ExecutionStats aggregates counters across all blocks.
type ExecutionStats struct {
	TotalExecutions       uint64        `json:"total_executions"`
	InterpreterExecutions uint64        `json:"interpreter_executions"`
	JITExecutions         uint64        `json:"jit_executions"`
	AOTExecutions         uint64        `json:"aot_executions"`
	TotalTime             time.Duration `json:"total_time_ns"`
	TotalCompileTime      time.Duration `json:"total_compile_time_ns"`
	Compilations          uint64        `json:"compilations"`
	CompileFailures       uint64        `json:"compile_failures"`
	ArtifactLoads         uint64        `json:"artifact_loads"`
	Upgrades              uint64        `json:"upgrades"`
	FailedUpgrades        uint64        `json:"failed_upgrades"`
	Invalidations         uint64        `json:"invalidations"`
}

func ratio(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// InterpreterRatio returns the share of executions that were interpreted.
func (s ExecutionStats) InterpreterRatio() float64 {
	return ratio(s.InterpreterExecutions, s.TotalExecutions)
}

// JITRatio returns the share of executions that ran JIT code.
func (s ExecutionStats) JITRatio() float64 {
	return ratio(s.JITExecutions, s.TotalExecutions)
}

// AOTRatio returns the share of executions that ran AOT code.
func (s ExecutionStats) AOTRatio() float64 {
	return ratio(s.AOTExecutions, s.TotalExecutions)
}

// AvgExecutionTime returns the mean time per execution.
func (s ExecutionStats) AvgExecutionTime() time.Duration {
	if s.TotalExecutions == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.TotalExecutions)
}

func (s *ExecutionStats) countMode(m policy.Mode) {
	s.TotalExecutions++
	switch m {
	case policy.ModeJIT:
		s.JITExecutions++
	case policy.ModeAOT:
		s.AOTExecutions++
	default:
		s.InterpreterExecutions++
	}
}

// CacheStats summarizes the compiled-code table.
type CacheStats struct {
	TotalCachedBlocks   int    `json:"total_cached_blocks"`
	TotalCacheSizeBytes uint64 `json:"total_cache_size_bytes"`
	InterpreterCount    int    `json:"interpreter_count"`
	JITCount            int    `json:"jit_count"`
	AOTCount            int    `json:"aot_count"`
}

// ExecutionResult is the outcome of one ExecuteBlock call.
type ExecutionResult struct {
	BlockID      ir.GuestAddr `json:"block_id"`
	Mode         policy.Mode  `json:"mode"`
	Success      bool         `json:"success"`
	ErrorMessage string       `json:"error_message,omitempty"`
}
