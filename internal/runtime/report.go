package runtime

import (
	"time"

	"github.com/roach88/vmtier/internal/codecache"
	"github.com/roach88/vmtier/internal/compcache"
	"github.com/roach88/vmtier/internal/policy"
)

// MemoReport summarizes one memoization cache. Timings are left out so that
// reports are reproducible under a fake clock.
type MemoReport struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Evictions       uint64  `json:"evictions"`
	Compilations    uint64  `json:"compilations"`
	CompileFailures uint64  `json:"compile_failures"`
	Entries         int     `json:"entries"`
	HitRate         float64 `json:"hit_rate"`
}

func memoReport(s compcache.Stats) MemoReport {
	return MemoReport{
		Hits:            s.Hits,
		Misses:          s.Misses,
		Evictions:       s.Evictions,
		Compilations:    s.Compilations,
		CompileFailures: s.CompileFailures,
		Entries:         s.Entries,
		HitRate:         s.HitRate(),
	}
}

// PassReport summarizes optimizer and scheduler work.
type PassReport struct {
	OptimizedBlocks   uint64 `json:"optimized_blocks"`
	ConstFolds        uint64 `json:"const_folds"`
	DeadOpsRemoved    uint64 `json:"dead_ops_removed"`
	InvariantsHoisted uint64 `json:"invariants_hoisted"`
	Loops             uint64 `json:"loops"`
	Inlines           uint64 `json:"inlines"`
	ScheduledBlocks   uint64 `json:"scheduled_blocks"`
	ReorderedBlocks   uint64 `json:"reordered_blocks"`
	DependencyEdges   uint64 `json:"dependency_edges"`
}

// Report is a point-in-time performance summary.
type Report struct {
	TotalExecutions  uint64           `json:"total_executions"`
	InterpreterRatio float64          `json:"interpreter_ratio"`
	JITRatio         float64          `json:"jit_ratio"`
	AOTRatio         float64          `json:"aot_ratio"`
	AvgExecutionTime time.Duration    `json:"avg_execution_time_ns"`
	HotspotCount     int              `json:"hotspot_count"`
	Hotspots         []BlockExecution `json:"hotspots"`
	Execution        ExecutionStats   `json:"execution"`
	Cache            CacheStats       `json:"cache"`
	JITMemo          MemoReport       `json:"jit_memo"`
	AOTMemo          MemoReport       `json:"aot_memo"`
	Tiers            codecache.Stats  `json:"tiers"`
	Passes           PassReport       `json:"passes"`
}

// GenerateReport summarizes the runtime with the topN hottest blocks.
func (r *Runtime) GenerateReport(topN int) Report {
	stats := r.GetExecutionStats()
	hotspots := r.GetHotspots(topN)
	passes := r.GetPassStats()

	rep := Report{
		TotalExecutions:  stats.TotalExecutions,
		InterpreterRatio: stats.InterpreterRatio(),
		JITRatio:         stats.JITRatio(),
		AOTRatio:         stats.AOTRatio(),
		AvgExecutionTime: stats.AvgExecutionTime(),
		HotspotCount:     len(hotspots),
		Hotspots:         hotspots,
		Execution:        stats,
		Cache:            r.GetCacheStats(),
		JITMemo:          memoReport(r.memos[policy.ModeJIT].Stats()),
		AOTMemo:          memoReport(r.memos[policy.ModeAOT].Stats()),
		Tiers:            r.tiers.Stats(),
		Passes: PassReport{
			OptimizedBlocks:   passes.Optimizer.Blocks,
			ConstFolds:        passes.Optimizer.ConstFolds,
			DeadOpsRemoved:    passes.Optimizer.DCEOps,
			InvariantsHoisted: passes.Optimizer.LICMHoists,
			Loops:             passes.Optimizer.Loops,
			Inlines:           passes.Optimizer.Inline.Inlines,
			ScheduledBlocks:   passes.ScheduledBlocks,
			ReorderedBlocks:   passes.ReorderedBlocks,
			DependencyEdges:   passes.DependencyEdges,
		},
	}
	if rep.Hotspots == nil {
		rep.Hotspots = []BlockExecution{}
	}
	return rep
}
