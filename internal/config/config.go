package config

import (
	"fmt"

	"github.com/docker/go-units"

	"github.com/roach88/vmtier/internal/codecache"
	"github.com/roach88/vmtier/internal/compcache"
	"github.com/roach88/vmtier/internal/optimizer"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/runtime"
)

// DefaultHotspotTopN is the number of hotspots a report lists.
const DefaultHotspotTopN = 10

// ValidationError reports a configuration value that is out of range or
// cannot be parsed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// File is the on-disk configuration document.
type File struct {
	Policy       PolicySection       `yaml:"policy"`
	Optimizer    OptimizerSection    `yaml:"optimizer"`
	Scheduler    SchedulerSection    `yaml:"scheduler"`
	CompileCache CompileCacheSection `yaml:"compile_cache"`
	CodeCache    CodeCacheSection    `yaml:"code_cache"`
	Runtime      RuntimeSection      `yaml:"runtime"`
}

// PolicySection holds the tiering thresholds.
type PolicySection struct {
	InterpreterThreshold      uint64 `yaml:"interpreter_threshold"`
	JITThreshold              uint64 `yaml:"jit_threshold"`
	AOTThreshold              uint64 `yaml:"aot_threshold"`
	AOTOptLevel               int    `yaml:"aot_opt_level"`
	EnablePGO                 bool   `yaml:"enable_pgo"`
	MaxConcurrentCompilations int    `yaml:"max_concurrent_compilations"`
}

// OptimizerSection configures JIT-tier optimization.
type OptimizerSection struct {
	JITLevel        string `yaml:"jit_level"`
	PreserveOutputs bool   `yaml:"preserve_outputs"`
	InlineThreshold int    `yaml:"inline_threshold"`
	UnrollThreshold int    `yaml:"unroll_threshold"`
}

type SchedulerSection struct {
	Enabled bool `yaml:"enabled"`
}

type CompileCacheSection struct {
	MaxEntries   int  `yaml:"max_entries"`
	HitThreshold int  `yaml:"hit_threshold"`
	Coalesce     bool `yaml:"coalesce"`
}

// CodeCacheSection sizes the three code cache tiers. Sizes are strings
// such as "256KiB".
type CodeCacheSection struct {
	L1Size            string `yaml:"l1_size"`
	L2Size            string `yaml:"l2_size"`
	L3Size            string `yaml:"l3_size"`
	HotspotThreshold  uint64 `yaml:"hotspot_threshold"`
	FrequentThreshold uint64 `yaml:"frequent_threshold"`
	L1MaxEntries      int    `yaml:"l1_max_entries"`
	L2MaxEntries      int    `yaml:"l2_max_entries"`
	L3MaxEntries      int    `yaml:"l3_max_entries"`
}

// RuntimeSection controls how the runtime is driven rather than how it
// compiles.
type RuntimeSection struct {
	// SyncUpgrades compiles tier upgrades on the executing goroutine.
	SyncUpgrades bool `yaml:"sync_upgrades"`

	// HotspotTopN bounds the hotspot list in reports.
	HotspotTopN int `yaml:"hotspot_top_n"`

	// StorePath is the SQLite database for AOT artifacts and profiles.
	// Empty disables persistence.
	StorePath string `yaml:"store_path"`

	// Profile loads the stored execution profile at startup and saves it
	// on exit. Requires StorePath.
	Profile bool `yaml:"profile"`
}

// Default returns the configuration matching runtime.DefaultConfig.
func Default() File {
	p := policy.Default()
	cc := codecache.DefaultConfig()
	return File{
		Policy: PolicySection{
			InterpreterThreshold:      p.InterpreterThreshold,
			JITThreshold:              p.JITThreshold,
			AOTThreshold:              p.AOTThreshold,
			AOTOptLevel:               p.AOTOptLevel,
			EnablePGO:                 p.EnablePGO,
			MaxConcurrentCompilations: p.MaxConcurrentCompilations,
		},
		Optimizer: OptimizerSection{
			JITLevel:        optimizer.LevelBasic.String(),
			PreserveOutputs: true,
			InlineThreshold: optimizer.DefaultInlineThreshold,
			UnrollThreshold: optimizer.DefaultUnrollThreshold,
		},
		Scheduler: SchedulerSection{Enabled: true},
		CompileCache: CompileCacheSection{
			MaxEntries:   compcache.DefaultMaxEntries,
			HitThreshold: compcache.DefaultHitThreshold,
		},
		CodeCache: CodeCacheSection{
			L1Size:            units.BytesSize(float64(cc.L1Size)),
			L2Size:            units.BytesSize(float64(cc.L2Size)),
			L3Size:            units.BytesSize(float64(cc.L3Size)),
			HotspotThreshold:  cc.HotspotThreshold,
			FrequentThreshold: cc.FrequentThreshold,
			L1MaxEntries:      cc.L1MaxEntries,
			L2MaxEntries:      cc.L2MaxEntries,
			L3MaxEntries:      cc.L3MaxEntries,
		},
		Runtime: RuntimeSection{
			HotspotTopN: DefaultHotspotTopN,
		},
	}
}

// Validate checks every section and returns the first problem as a
// *ValidationError.
func (f File) Validate() error {
	_, err := f.RuntimeConfig()
	return err
}

// RuntimeConfig converts the file into a validated runtime.Config.
func (f File) RuntimeConfig() (runtime.Config, error) {
	cfg := runtime.DefaultConfig()

	cfg.Policy = policy.Policy{
		InterpreterThreshold:      f.Policy.InterpreterThreshold,
		JITThreshold:              f.Policy.JITThreshold,
		AOTThreshold:              f.Policy.AOTThreshold,
		AOTOptLevel:               f.Policy.AOTOptLevel,
		EnablePGO:                 f.Policy.EnablePGO,
		MaxConcurrentCompilations: f.Policy.MaxConcurrentCompilations,
	}
	if f.Policy.JITThreshold > f.Policy.AOTThreshold {
		return cfg, invalid("policy.jit_threshold", "%d exceeds aot_threshold %d", f.Policy.JITThreshold, f.Policy.AOTThreshold)
	}
	if f.Policy.AOTOptLevel < 0 || f.Policy.AOTOptLevel > 3 {
		return cfg, invalid("policy.aot_opt_level", "must be in [0,3], got %d", f.Policy.AOTOptLevel)
	}
	if f.Policy.MaxConcurrentCompilations < 1 {
		return cfg, invalid("policy.max_concurrent_compilations", "must be >= 1, got %d", f.Policy.MaxConcurrentCompilations)
	}

	level, err := optimizer.ParseLevel(f.Optimizer.JITLevel)
	if err != nil {
		return cfg, invalid("optimizer.jit_level", "%v", err)
	}
	if f.Optimizer.InlineThreshold < 0 {
		return cfg, invalid("optimizer.inline_threshold", "must not be negative, got %d", f.Optimizer.InlineThreshold)
	}
	if f.Optimizer.UnrollThreshold < 0 {
		return cfg, invalid("optimizer.unroll_threshold", "must not be negative, got %d", f.Optimizer.UnrollThreshold)
	}
	cfg.JITOptLevel = level
	cfg.PreserveOutputs = f.Optimizer.PreserveOutputs
	cfg.InlineThreshold = f.Optimizer.InlineThreshold
	cfg.UnrollThreshold = f.Optimizer.UnrollThreshold
	cfg.SkipScheduling = !f.Scheduler.Enabled

	if f.CompileCache.MaxEntries < 1 {
		return cfg, invalid("compile_cache.max_entries", "must be >= 1, got %d", f.CompileCache.MaxEntries)
	}
	if f.CompileCache.HitThreshold < 0 {
		return cfg, invalid("compile_cache.hit_threshold", "must not be negative, got %d", f.CompileCache.HitThreshold)
	}
	cfg.CompileCacheEntries = f.CompileCache.MaxEntries
	cfg.CompileCacheHitThreshold = f.CompileCache.HitThreshold

	cc, err := f.CodeCache.toConfig()
	if err != nil {
		return cfg, err
	}
	cfg.CodeCache = cc

	if f.Runtime.HotspotTopN < 0 {
		return cfg, invalid("runtime.hotspot_top_n", "must not be negative, got %d", f.Runtime.HotspotTopN)
	}
	if f.Runtime.Profile && f.Runtime.StorePath == "" {
		return cfg, invalid("runtime.profile", "requires runtime.store_path")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, invalid("runtime", "%v", err)
	}
	return cfg, nil
}

func (s CodeCacheSection) toConfig() (codecache.Config, error) {
	cfg := codecache.Config{
		HotspotThreshold:  s.HotspotThreshold,
		FrequentThreshold: s.FrequentThreshold,
		L1MaxEntries:      s.L1MaxEntries,
		L2MaxEntries:      s.L2MaxEntries,
		L3MaxEntries:      s.L3MaxEntries,
	}
	sizes := []struct {
		field string
		value string
		dst   *uint64
	}{
		{"code_cache.l1_size", s.L1Size, &cfg.L1Size},
		{"code_cache.l2_size", s.L2Size, &cfg.L2Size},
		{"code_cache.l3_size", s.L3Size, &cfg.L3Size},
	}
	for _, sz := range sizes {
		n, err := ParseSize(sz.value)
		if err != nil {
			return cfg, invalid(sz.field, "%v", err)
		}
		*sz.dst = n
	}
	if s.FrequentThreshold > s.HotspotThreshold {
		return cfg, invalid("code_cache.frequent_threshold", "%d exceeds hotspot_threshold %d", s.FrequentThreshold, s.HotspotThreshold)
	}
	if s.L1MaxEntries < 0 || s.L2MaxEntries < 0 || s.L3MaxEntries < 0 {
		return cfg, invalid("code_cache", "max entries must not be negative")
	}
	return cfg, nil
}

// ParseSize parses a positive human-readable byte size in binary units
// ("64KiB", "2m", "1048576").
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("size is empty")
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", s)
	}
	return uint64(n), nil
}

// RuntimeOptions returns the runtime options implied by the file. Callers
// add their own collaborators and logger.
func (f File) RuntimeOptions() []runtime.Option {
	var opts []runtime.Option
	if f.Runtime.SyncUpgrades {
		opts = append(opts, runtime.WithSyncUpgrades())
	}
	if f.CompileCache.Coalesce {
		opts = append(opts, runtime.WithCoalescing())
	}
	return opts
}
