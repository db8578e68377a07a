package report

import (
	"strconv"
	"time"

	"github.com/roach88/vmtier/internal/codecache"
	"github.com/roach88/vmtier/internal/runtime"
)

// Ratio renders a ratio in [0,1] as a fixed-point string with four decimals.
func Ratio(r float64) String {
	return String(strconv.FormatFloat(r, 'f', 4, 64))
}

func nanos(d time.Duration) Int {
	return Int(d.Nanoseconds())
}

// Snapshot converts a runtime report to a canonical value tree.
func Snapshot(rep runtime.Report) Object {
	hotspots := make(Array, 0, len(rep.Hotspots))
	for _, h := range rep.Hotspots {
		hotspots = append(hotspots, Object{
			"block":                   String(h.BlockID.String()),
			"execution_count":         Uint(h.ExecutionCount),
			"mode":                    String(h.CurrentMode.String()),
			"total_execution_time_ns": nanos(h.TotalExecutionTime),
		})
	}

	return Object{
		"total_executions":      Uint(rep.TotalExecutions),
		"interpreter_ratio":     Ratio(rep.InterpreterRatio),
		"jit_ratio":             Ratio(rep.JITRatio),
		"aot_ratio":             Ratio(rep.AOTRatio),
		"avg_execution_time_ns": nanos(rep.AvgExecutionTime),
		"hotspot_count":         Int(rep.HotspotCount),
		"hotspots":              hotspots,
		"execution":             executionValue(rep.Execution),
		"cache":                 cacheValue(rep.Cache),
		"jit_memo":              memoValue(rep.JITMemo),
		"aot_memo":              memoValue(rep.AOTMemo),
		"tiers":                 tiersValue(rep.Tiers),
		"passes":                passesValue(rep.Passes),
	}
}

func executionValue(s runtime.ExecutionStats) Object {
	return Object{
		"total_executions":       Uint(s.TotalExecutions),
		"interpreter_executions": Uint(s.InterpreterExecutions),
		"jit_executions":         Uint(s.JITExecutions),
		"aot_executions":         Uint(s.AOTExecutions),
		"total_time_ns":          nanos(s.TotalTime),
		"total_compile_time_ns":  nanos(s.TotalCompileTime),
		"compilations":           Uint(s.Compilations),
		"compile_failures":       Uint(s.CompileFailures),
		"artifact_loads":         Uint(s.ArtifactLoads),
		"upgrades":               Uint(s.Upgrades),
		"failed_upgrades":        Uint(s.FailedUpgrades),
		"invalidations":          Uint(s.Invalidations),
	}
}

func cacheValue(s runtime.CacheStats) Object {
	return Object{
		"total_cached_blocks":    Int(s.TotalCachedBlocks),
		"total_cache_size_bytes": Uint(s.TotalCacheSizeBytes),
		"interpreter_count":      Int(s.InterpreterCount),
		"jit_count":              Int(s.JITCount),
		"aot_count":              Int(s.AOTCount),
	}
}

func memoValue(m runtime.MemoReport) Object {
	return Object{
		"hits":             Uint(m.Hits),
		"misses":           Uint(m.Misses),
		"evictions":        Uint(m.Evictions),
		"compilations":     Uint(m.Compilations),
		"compile_failures": Uint(m.CompileFailures),
		"entries":          Int(m.Entries),
		"hit_rate":         Ratio(m.HitRate),
	}
}

func tierValue(t codecache.TierStats) Object {
	return Object{
		"entries":   Int(t.Entries),
		"bytes":     Uint(t.Bytes),
		"capacity":  Uint(t.Capacity),
		"hits":      Uint(t.Hits),
		"evictions": Uint(t.Evictions),
	}
}

func tiersValue(s codecache.Stats) Object {
	return Object{
		"l1":            tierValue(s.L1),
		"l2":            tierValue(s.L2),
		"l3":            tierValue(s.L3),
		"misses":        Uint(s.Misses),
		"inserts":       Uint(s.Inserts),
		"rejected":      Uint(s.Rejected),
		"removals":      Uint(s.Removals),
		"promote_l3_l2": Uint(s.PromoteL3L2),
		"promote_l2_l1": Uint(s.PromoteL2L1),
		"demote_l1_l2":  Uint(s.DemoteL1L2),
		"demote_l2_l3":  Uint(s.DemoteL2L3),
		"dropped":       Uint(s.Dropped),
		"hit_rate":      Ratio(s.HitRate()),
	}
}

func passesValue(p runtime.PassReport) Object {
	return Object{
		"optimized_blocks":   Uint(p.OptimizedBlocks),
		"const_folds":        Uint(p.ConstFolds),
		"dead_ops_removed":   Uint(p.DeadOpsRemoved),
		"invariants_hoisted": Uint(p.InvariantsHoisted),
		"loops":              Uint(p.Loops),
		"inlines":            Uint(p.Inlines),
		"scheduled_blocks":   Uint(p.ScheduledBlocks),
		"reordered_blocks":   Uint(p.ReorderedBlocks),
		"dependency_edges":   Uint(p.DependencyEdges),
	}
}

// JSON renders rep as canonical JSON.
func JSON(rep runtime.Report) ([]byte, error) {
	return MarshalCanonical(Snapshot(rep))
}
