package report

import (
	"bytes"
	"io"

	"github.com/docker/go-units"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/vmtier/internal/codecache"
	"github.com/roach88/vmtier/internal/runtime"
)

// WriteText renders rep as an aligned human-readable summary. Counts use
// English digit grouping and sizes use binary units.
func WriteText(w io.Writer, rep runtime.Report) error {
	var buf bytes.Buffer
	p := message.NewPrinter(language.English)
	ex := rep.Execution

	p.Fprintf(&buf, "Executions:     %d\n", rep.TotalExecutions)
	p.Fprintf(&buf, "  interpreter:  %d (%s)\n", ex.InterpreterExecutions, percent(p, rep.InterpreterRatio))
	p.Fprintf(&buf, "  jit:          %d (%s)\n", ex.JITExecutions, percent(p, rep.JITRatio))
	p.Fprintf(&buf, "  aot:          %d (%s)\n", ex.AOTExecutions, percent(p, rep.AOTRatio))
	p.Fprintf(&buf, "Avg time:       %v\n", rep.AvgExecutionTime)
	p.Fprintf(&buf, "Compilations:   %d (failures %d, artifact loads %d)\n", ex.Compilations, ex.CompileFailures, ex.ArtifactLoads)
	p.Fprintf(&buf, "Upgrades:       %d (failed %d)\n", ex.Upgrades, ex.FailedUpgrades)
	p.Fprintf(&buf, "Invalidations:  %d\n", ex.Invalidations)

	p.Fprintf(&buf, "\nHotspots (%d):\n", rep.HotspotCount)
	for _, h := range rep.Hotspots {
		p.Fprintf(&buf, "  %-12s %-12s %d executions\n", h.BlockID, h.CurrentMode, h.ExecutionCount)
	}

	p.Fprintf(&buf, "\nCompiled code:  %d blocks, %s (jit %d, aot %d)\n",
		rep.Cache.TotalCachedBlocks, units.BytesSize(float64(rep.Cache.TotalCacheSizeBytes)),
		rep.Cache.JITCount, rep.Cache.AOTCount)

	p.Fprintf(&buf, "\nCode cache:     hit rate %s, misses %d\n", percent(p, rep.Tiers.HitRate()), rep.Tiers.Misses)
	writeTier(&buf, p, "L1", rep.Tiers.L1)
	writeTier(&buf, p, "L2", rep.Tiers.L2)
	writeTier(&buf, p, "L3", rep.Tiers.L3)
	p.Fprintf(&buf, "  promotions %d/%d, demotions %d/%d, dropped %d\n",
		rep.Tiers.PromoteL3L2, rep.Tiers.PromoteL2L1,
		rep.Tiers.DemoteL1L2, rep.Tiers.DemoteL2L3, rep.Tiers.Dropped)

	p.Fprintf(&buf, "\nCompile memo:\n")
	writeMemo(&buf, p, "jit", rep.JITMemo)
	writeMemo(&buf, p, "aot", rep.AOTMemo)

	ps := rep.Passes
	p.Fprintf(&buf, "\nPasses:         %d blocks optimized\n", ps.OptimizedBlocks)
	p.Fprintf(&buf, "  folds %d, dead ops %d, hoisted %d, loops %d, inlines %d\n",
		ps.ConstFolds, ps.DeadOpsRemoved, ps.InvariantsHoisted, ps.Loops, ps.Inlines)
	p.Fprintf(&buf, "  scheduled %d, reordered %d, dependency edges %d\n",
		ps.ScheduledBlocks, ps.ReorderedBlocks, ps.DependencyEdges)

	_, err := w.Write(buf.Bytes())
	return err
}

func writeTier(buf *bytes.Buffer, p *message.Printer, name string, t codecache.TierStats) {
	p.Fprintf(buf, "  %s  %d entries, %s / %s, hits %d, evictions %d\n",
		name, t.Entries,
		units.BytesSize(float64(t.Bytes)), units.BytesSize(float64(t.Capacity)),
		t.Hits, t.Evictions)
}

func writeMemo(buf *bytes.Buffer, p *message.Printer, name string, m runtime.MemoReport) {
	p.Fprintf(buf, "  %s  hits %d, misses %d, compiles %d, failures %d, entries %d\n",
		name, m.Hits, m.Misses, m.Compilations, m.CompileFailures, m.Entries)
}

func percent(p *message.Printer, r float64) string {
	return p.Sprintf("%.2f%%", r*100)
}
