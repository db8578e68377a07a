package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/roach88/vmtier/internal/codecache"
	"github.com/roach88/vmtier/internal/compcache"
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/optimizer"
	"github.com/roach88/vmtier/internal/policy"
)

// Config holds the runtime's tuning knobs.
type Config struct {
	Policy policy.Policy

	// JITOptLevel is the optimizer level for JIT compiles. AOT compiles use
	// Policy.AOTOptLevel.
	JITOptLevel optimizer.Level

	// PreserveOutputs keeps every register written by a block live at exit.
	// Blocks hand their registers to the next block, so this is the safe
	// default.
	PreserveOutputs bool

	InlineThreshold int
	UnrollThreshold int

	// SkipScheduling hands optimized blocks to the backend in program order.
	SkipScheduling bool

	CompileCacheEntries      int
	CompileCacheHitThreshold int

	CodeCache codecache.Config
}

// DefaultConfig returns the standard runtime configuration.
func DefaultConfig() Config {
	return Config{
		Policy:                   policy.Default(),
		JITOptLevel:              optimizer.LevelBasic,
		PreserveOutputs:          true,
		InlineThreshold:          optimizer.DefaultInlineThreshold,
		UnrollThreshold:          optimizer.DefaultUnrollThreshold,
		CompileCacheEntries:      compcache.DefaultMaxEntries,
		CompileCacheHitThreshold: compcache.DefaultHitThreshold,
		CodeCache:                codecache.DefaultConfig(),
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := c.CodeCache.Validate(); err != nil {
		return fmt.Errorf("code cache: %w", err)
	}
	if c.InlineThreshold < 0 {
		return fmt.Errorf("inline_threshold must not be negative, got %d", c.InlineThreshold)
	}
	if c.CompileCacheEntries < 1 {
		return fmt.Errorf("compile cache entries must be >= 1, got %d", c.CompileCacheEntries)
	}
	return nil
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithInterpreter sets the interpreter used for cold blocks and compile fallbacks.
func WithInterpreter(i Interpreter) Option {
	return func(r *Runtime) {
		r.interp = i
	}
}

// WithDispatcher sets the compiled-code dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Runtime) {
		r.disp = d
	}
}

// WithBackend sets the code generator.
func WithBackend(b Backend) Option {
	return func(r *Runtime) {
		r.backend = b
	}
}

// WithStore enables AOT artifact reuse and profile persistence.
func WithStore(s ArtifactStore) Option {
	return func(r *Runtime) {
		r.store = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithClock sets the wall-clock source for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// WithIDGenerator sets the session and compile job ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runtime) {
		r.ids = g
	}
}

// WithSyncUpgrades processes upgrade requests inline on the executing
// goroutine instead of queueing them for Run.
func WithSyncUpgrades() Option {
	return func(r *Runtime) {
		r.syncUpgrades = true
	}
}

// WithCoalescing makes concurrent compiles of the same block share one
// backend call.
func WithCoalescing() Option {
	return func(r *Runtime) {
		r.coalesce = true
	}
}

// WithFuncSizer enables the inlining gate at Medium and above.
func WithFuncSizer(f optimizer.FuncSizer) Option {
	return func(r *Runtime) {
		r.sizer = f
	}
}

type blockRecord struct {
	mu sync.Mutex
	BlockExecution
}

// PassStats aggregates optimizer and scheduler counters over all compiles.
type PassStats struct {
	Optimizer       optimizer.Stats `json:"optimizer"`
	ScheduledBlocks uint64          `json:"scheduled_blocks"`
	ReorderedBlocks uint64          `json:"reordered_blocks"`
	DependencyEdges uint64          `json:"dependency_edges"`
}

// Runtime is the hybrid execution orchestrator.
//
// Thread-safety model:
//   - ExecuteBlock and every query method: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Runtime struct {
	cfg     Config
	interp  Interpreter
	disp    Dispatcher
	backend Backend
	store   ArtifactStore
	logger  *slog.Logger
	now     func() time.Time
	ids     IDGenerator
	seq     compileSeq
	session string

	syncUpgrades bool
	coalesce     bool
	sizer        optimizer.FuncSizer

	blocksMu sync.Mutex
	blocks   map[ir.GuestAddr]*blockRecord

	profileMu sync.Mutex
	profile   map[ir.GuestAddr]uint64

	codeMu   sync.RWMutex
	compiled map[ir.GuestAddr]*CompiledBlock
	index    *btree.BTreeG[ir.GuestAddr]

	// Compiles with a Seq at or below a fence are discarded at install.
	// Guarded by codeMu.
	fences     map[ir.GuestAddr]int64
	clearFence int64

	memos map[policy.Mode]*compcache.Cache
	tiers *codecache.Cache

	pendingMu sync.Mutex
	pending   map[ir.GuestAddr]policy.Mode
	queue     *upgradeQueue

	statsMu sync.Mutex
	stats   ExecutionStats
	passes  PassStats
}

// New creates a Runtime. A Backend, an Interpreter and a Dispatcher are
// required.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}

	r := &Runtime{
		cfg:      cfg,
		blocks:   make(map[ir.GuestAddr]*blockRecord),
		profile:  make(map[ir.GuestAddr]uint64),
		compiled: make(map[ir.GuestAddr]*CompiledBlock),
		fences:   make(map[ir.GuestAddr]int64),
		index:    btree.NewG[ir.GuestAddr](8, func(a, b ir.GuestAddr) bool { return a < b }),
		pending:  make(map[ir.GuestAddr]policy.Mode),
		queue:    newUpgradeQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.ids == nil {
		r.ids = UUIDv7Generator{}
	}
	switch {
	case r.backend == nil:
		return nil, fmt.Errorf("runtime: no backend configured")
	case r.interp == nil:
		return nil, fmt.Errorf("runtime: no interpreter configured")
	case r.disp == nil:
		return nil, fmt.Errorf("runtime: no dispatcher configured")
	}

	memoOpts := []compcache.Option{
		compcache.WithHitThreshold(cfg.CompileCacheHitThreshold),
		compcache.WithLogger(r.logger),
	}
	if r.coalesce {
		memoOpts = append(memoOpts, compcache.WithCoalescing())
	}
	r.memos = map[policy.Mode]*compcache.Cache{
		policy.ModeJIT: compcache.New(cfg.CompileCacheEntries, memoOpts...),
		policy.ModeAOT: compcache.New(cfg.CompileCacheEntries, memoOpts...),
	}
	r.tiers = codecache.New(cfg.CodeCache,
		codecache.WithClock(r.now),
		codecache.WithLogger(r.logger),
	)
	r.session = r.ids.Generate()

	return r, nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// SessionID identifies this runtime instance in persisted artifacts.
func (r *Runtime) SessionID() string {
	return r.session
}

// CodeCache exposes the tiered code cache for inspection.
func (r *Runtime) CodeCache() *codecache.Cache {
	return r.tiers
}

// ExecuteBlock runs b once in the mode the policy picks for its current
// count and updates the block's statistics.
//
// The returned result reports Success=false when the block could not be
// compiled (it was interpreted instead) or when the interpreter or
// dispatcher failed. It never panics on collaborator errors.
func (r *Runtime) ExecuteBlock(ctx context.Context, b *ir.Block) ExecutionResult {
	addr := b.StartPC
	rec := r.record(addr)

	rec.mu.Lock()
	count := rec.ExecutionCount
	rec.mu.Unlock()

	mode := r.cfg.Policy.DecideMode(count)
	start := r.now()
	res := ExecutionResult{BlockID: addr, Mode: mode, Success: true}

	ran, compileErr, execErr := mode, error(nil), error(nil)
	if mode == policy.ModeInterpreter {
		execErr = r.interp.Interpret(ctx, b)
	} else {
		ran, compileErr, execErr = r.executeCompiled(ctx, b, mode)
	}
	end := r.now()
	elapsed := end.Sub(start)

	res.Mode = ran
	switch {
	case compileErr != nil:
		res.Success = false
		res.ErrorMessage = compileErr.Error()
	case execErr != nil:
		res.Success = false
		res.ErrorMessage = execErr.Error()
		r.logger.Warn("block execution failed", "pc", addr.String(), "mode", ran.String(), "error", execErr)
	}

	rec.mu.Lock()
	rec.ExecutionCount++
	rec.CurrentMode = ran
	rec.LastExecutedAt = end
	rec.TotalExecutionTime += elapsed
	newCount := rec.ExecutionCount
	rec.mu.Unlock()

	r.statsMu.Lock()
	r.stats.countMode(ran)
	r.stats.TotalTime += elapsed
	r.statsMu.Unlock()

	r.logger.Debug("block executed",
		"pc", addr.String(),
		"mode", ran.String(),
		"count", newCount,
		"success", res.Success,
	)

	if compileErr == nil && r.cfg.Policy.ShouldUpgrade(ran, newCount) {
		r.requestUpgrade(ctx, b, r.cfg.Policy.DecideMode(newCount))
	}

	return res
}

// executeCompiled runs b with compiled code of at least mode, compiling it
// if none is installed. It returns the mode that actually ran.
func (r *Runtime) executeCompiled(ctx context.Context, b *ir.Block, mode policy.Mode) (policy.Mode, error, error) {
	cb := r.installed(b)
	switch {
	case cb != nil && cb.Mode >= mode:
		return cb.Mode, nil, r.dispatch(ctx, b, cb)
	case cb != nil:
		err := r.dispatch(ctx, b, cb)
		r.requestUpgrade(ctx, b, mode)
		return cb.Mode, nil, err
	}

	cb, err := r.compile(ctx, b, mode)
	if err != nil {
		r.logger.Warn("compile failed, falling back to interpreter",
			"pc", b.StartPC.String(),
			"mode", mode.String(),
			"error", err,
		)
		return policy.ModeInterpreter, err, r.interp.Interpret(ctx, b)
	}
	return cb.Mode, nil, r.dispatch(ctx, b, cb)
}

// installed returns the compiled code for b, discarding it first if it was
// compiled from different block contents.
func (r *Runtime) installed(b *ir.Block) *CompiledBlock {
	r.codeMu.RLock()
	cb, ok := r.compiled[b.StartPC]
	r.codeMu.RUnlock()
	if !ok {
		return nil
	}
	if cb.Hash != ir.ContentHash(b) {
		r.logger.Info("stale compiled code discarded", "pc", b.StartPC.String(), "mode", cb.Mode.String())
		r.dropCompiled(b.StartPC, cb)
		return nil
	}
	return cb
}

// dropCompiled removes cb from the compiled table if it is still current.
func (r *Runtime) dropCompiled(addr ir.GuestAddr, cb *CompiledBlock) {
	r.codeMu.Lock()
	if cur, ok := r.compiled[addr]; ok && cur == cb {
		delete(r.compiled, addr)
		r.index.Delete(addr)
		r.tiers.Remove(addr)
	}
	r.codeMu.Unlock()

	r.statsMu.Lock()
	r.stats.Invalidations++
	r.statsMu.Unlock()
}

// dispatch runs cb's code, preferring the tiered cache's copy. A cache miss
// reinserts the code.
func (r *Runtime) dispatch(ctx context.Context, b *ir.Block, cb *CompiledBlock) error {
	code, ok := r.tiers.Get(b.StartPC)
	if !ok {
		code = cb.Code
		r.codeMu.Lock()
		if cur, ok := r.compiled[b.StartPC]; ok && cur == cb {
			r.cacheCode(cb)
		}
		r.codeMu.Unlock()
	}
	return r.disp.Dispatch(ctx, b, code)
}

// record returns the statistics record for addr, creating it on first use.
// New records are seeded from the loaded profile when PGO is enabled.
func (r *Runtime) record(addr ir.GuestAddr) *blockRecord {
	r.blocksMu.Lock()
	defer r.blocksMu.Unlock()

	if rec, ok := r.blocks[addr]; ok {
		return rec
	}
	rec := &blockRecord{BlockExecution: BlockExecution{BlockID: addr, CurrentMode: policy.ModeInterpreter}}
	if r.cfg.Policy.EnablePGO {
		r.profileMu.Lock()
		rec.ExecutionCount = r.profile[addr]
		r.profileMu.Unlock()
	}
	r.blocks[addr] = rec
	return rec
}

// GetBlockStats returns a snapshot of addr's statistics.
func (r *Runtime) GetBlockStats(addr ir.GuestAddr) (BlockExecution, bool) {
	r.blocksMu.Lock()
	rec, ok := r.blocks[addr]
	r.blocksMu.Unlock()
	if !ok {
		return BlockExecution{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.BlockExecution, true
}

// snapshots copies every block record.
func (r *Runtime) snapshots() []BlockExecution {
	r.blocksMu.Lock()
	recs := make([]*blockRecord, 0, len(r.blocks))
	for _, rec := range r.blocks {
		recs = append(recs, rec)
	}
	r.blocksMu.Unlock()

	out := make([]BlockExecution, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.BlockExecution)
		rec.mu.Unlock()
	}
	return out
}

// GetHotspots returns the n most executed blocks, highest count first.
// Equal counts are ordered by address.
func (r *Runtime) GetHotspots(n int) []BlockExecution {
	if n <= 0 {
		return nil
	}
	all := r.snapshots()
	sort.Slice(all, func(i, j int) bool {
		if all[i].ExecutionCount != all[j].ExecutionCount {
			return all[i].ExecutionCount > all[j].ExecutionCount
		}
		return all[i].BlockID < all[j].BlockID
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// GetExecutionStats returns the aggregate counters.
func (r *Runtime) GetExecutionStats() ExecutionStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// GetPassStats returns aggregate optimizer and scheduler counters.
func (r *Runtime) GetPassStats() PassStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.passes
}

// GetCacheStats summarizes installed compiled code by mode.
func (r *Runtime) GetCacheStats() CacheStats {
	r.codeMu.RLock()
	defer r.codeMu.RUnlock()

	var s CacheStats
	for _, cb := range r.compiled {
		s.TotalCachedBlocks++
		s.TotalCacheSizeBytes += uint64(cb.CodeSize)
		switch cb.Mode {
		case policy.ModeJIT:
			s.JITCount++
		case policy.ModeAOT:
			s.AOTCount++
		default:
			s.InterpreterCount++
		}
	}
	return s
}

// CompiledBlock returns the installed code for addr.
func (r *Runtime) CompiledBlock(addr ir.GuestAddr) (*CompiledBlock, bool) {
	r.codeMu.RLock()
	defer r.codeMu.RUnlock()
	cb, ok := r.compiled[addr]
	return cb, ok
}

// MemoStats returns the memoization cache counters for a compiled mode.
func (r *Runtime) MemoStats(mode policy.Mode) (compcache.Stats, bool) {
	m, ok := r.memos[mode]
	if !ok {
		return compcache.Stats{}, false
	}
	return m.Stats(), true
}

// ClearCache drops all compiled code: the compiled table, the address index,
// the tiered cache and the memoization caches. Block statistics are kept.
func (r *Runtime) ClearCache() {
	r.codeMu.Lock()
	r.compiled = make(map[ir.GuestAddr]*CompiledBlock)
	r.fences = make(map[ir.GuestAddr]int64)
	r.clearFence = r.seq.current()
	r.index.Clear(false)
	r.tiers.Clear()
	r.codeMu.Unlock()

	for _, m := range r.memos {
		m.Clear()
	}
	r.logger.Info("compiled code cleared")
}

// ResetStats drops every block record and zeroes the aggregate counters.
func (r *Runtime) ResetStats() {
	r.blocksMu.Lock()
	r.blocks = make(map[ir.GuestAddr]*blockRecord)
	r.blocksMu.Unlock()

	r.statsMu.Lock()
	r.stats = ExecutionStats{}
	r.passes = PassStats{}
	r.statsMu.Unlock()
}

// Maintain drops rarely used memoization entries. Returns how many were
// removed.
func (r *Runtime) Maintain() int {
	removed := 0
	for _, m := range r.memos {
		removed += m.Optimize()
	}
	if removed > 0 {
		r.logger.Info("compile cache trimmed", "removed", removed)
	}
	return removed
}

// Close stops accepting upgrade requests. A running Run loop finishes the
// queued requests and returns.
func (r *Runtime) Close() {
	r.queue.Close()
}
