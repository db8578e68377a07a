package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/optimizer"
	"github.com/roach88/vmtier/internal/runtime"
)

func TestDefault_MatchesRuntimeDefaults(t *testing.T) {
	f := Default()
	require.NoError(t, f.Validate())

	cfg, err := f.RuntimeConfig()
	require.NoError(t, err)
	assert.Equal(t, runtime.DefaultConfig(), cfg)
	assert.Equal(t, "256KiB", f.CodeCache.L1Size)
	assert.Equal(t, "64MiB", f.CodeCache.L3Size)
}

func TestParseYAML_OverridesKeepDefaults(t *testing.T) {
	f, err := ParseYAML([]byte("policy:\n  jit_threshold: 3\n  aot_threshold: 6\n"))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), f.Policy.JITThreshold)
	assert.Equal(t, uint64(6), f.Policy.AOTThreshold)
	assert.Equal(t, Default().Policy.MaxConcurrentCompilations, f.Policy.MaxConcurrentCompilations)
	assert.Equal(t, Default().CodeCache, f.CodeCache)
}

func TestParseYAML_Empty(t *testing.T) {
	f, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
}

func TestParseYAML_UnknownFieldRejected(t *testing.T) {
	_, err := ParseYAML([]byte("policy:\n  jit_treshold: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jit_treshold")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*File)
		field string
	}{
		{"jit above aot", func(f *File) { f.Policy.JITThreshold = 500 }, "policy.jit_threshold"},
		{"aot level", func(f *File) { f.Policy.AOTOptLevel = 4 }, "policy.aot_opt_level"},
		{"no compile slots", func(f *File) { f.Policy.MaxConcurrentCompilations = 0 }, "policy.max_concurrent_compilations"},
		{"jit level", func(f *File) { f.Optimizer.JITLevel = "turbo" }, "optimizer.jit_level"},
		{"inline threshold", func(f *File) { f.Optimizer.InlineThreshold = -1 }, "optimizer.inline_threshold"},
		{"memo entries", func(f *File) { f.CompileCache.MaxEntries = 0 }, "compile_cache.max_entries"},
		{"size syntax", func(f *File) { f.CodeCache.L2Size = "lots" }, "code_cache.l2_size"},
		{"size zero", func(f *File) { f.CodeCache.L1Size = "0" }, "code_cache.l1_size"},
		{"tier thresholds", func(f *File) { f.CodeCache.FrequentThreshold = 5000 }, "code_cache.frequent_threshold"},
		{"profile without store", func(f *File) { f.Runtime.Profile = true }, "runtime.profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.edit(&f)

			err := f.Validate()

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRuntimeConfig_Conversion(t *testing.T) {
	f := Default()
	f.Optimizer.JITLevel = "high"
	f.Scheduler.Enabled = false
	f.CodeCache.L1Size = "64k"
	f.CodeCache.L2Size = "1MiB"

	cfg, err := f.RuntimeConfig()
	require.NoError(t, err)

	assert.Equal(t, optimizer.LevelHigh, cfg.JITOptLevel)
	assert.True(t, cfg.SkipScheduling)
	assert.Equal(t, uint64(64*1024), cfg.CodeCache.L1Size)
	assert.Equal(t, uint64(1024*1024), cfg.CodeCache.L2Size)
}

func TestRuntimeOptions(t *testing.T) {
	f := Default()
	assert.Empty(t, f.RuntimeOptions())

	f.Runtime.SyncUpgrades = true
	f.CompileCache.Coalesce = true
	assert.Len(t, f.RuntimeOptions(), 2)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"1048576", 1 << 20},
		{"256KiB", 256 << 10},
		{"2m", 2 << 20},
		{"64MiB", 64 << 20},
		{"1g", 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSize("")
	assert.Error(t, err)
	_, err = ParseSize("-5")
	assert.Error(t, err)
}

func TestLoad_YAMLAndCUEAgree(t *testing.T) {
	fromYAML, err := Load(filepath.Join("testdata", "tuned.yaml"))
	require.NoError(t, err)
	fromCUE, err := Load(filepath.Join("testdata", "tuned.cue"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML, fromCUE)
	assert.Equal(t, "medium", fromCUE.Optimizer.JITLevel)
	assert.Equal(t, 5, fromCUE.Runtime.HotspotTopN)
	assert.True(t, fromCUE.Runtime.SyncUpgrades)
	assert.Equal(t, Default().CodeCache.L3Size, fromCUE.CodeCache.L3Size)
}

func TestLoad_CUESchemaViolations(t *testing.T) {
	for _, name := range []string{"unknown_key.cue", "bad_level.cue"} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(filepath.Join("testdata", name))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config schema")
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "vmtier.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestMarshal_RoundTrip(t *testing.T) {
	f := Default()
	f.Policy.JITThreshold = 7
	f.Runtime.StorePath = "vm.db"

	data, err := Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), "jit_threshold: 7")

	back, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}
