package optimizer

// InlineStats counts inlining gate decisions.
type InlineStats struct {
	Inlines          uint64 `json:"inlines"`
	SkippedTooLarge  uint64 `json:"skipped_too_large"`
	SkippedRecursive uint64 `json:"skipped_recursive"`
}

// Inliner gates inlining decisions for one compilation unit. It records which
// functions were inlined so a function is never inlined into itself
// transitively. Body substitution belongs to the code generator.
type Inliner struct {
	threshold int
	inlined   map[uint64]struct{}
	stats     InlineStats
}

// NewInliner creates a gate that rejects functions larger than threshold.
func NewInliner(threshold int) *Inliner {
	return &Inliner{
		threshold: threshold,
		inlined:   make(map[uint64]struct{}),
	}
}

// ShouldInline reports whether fn of the given size may be inlined.
// A function already inlined in this unit is rejected as recursive.
func (in *Inliner) ShouldInline(fn uint64, size int) bool {
	if _, seen := in.inlined[fn]; seen {
		in.stats.SkippedRecursive++
		return false
	}
	if size > in.threshold {
		in.stats.SkippedTooLarge++
		return false
	}
	return true
}

// RecordInline marks fn as inlined in this unit.
func (in *Inliner) RecordInline(fn uint64) {
	in.inlined[fn] = struct{}{}
	in.stats.Inlines++
}

// Reset starts a new compilation unit. Statistics are kept.
func (in *Inliner) Reset() {
	clear(in.inlined)
}

// Stats returns the gate counters.
func (in *Inliner) Stats() InlineStats {
	return in.stats
}
