package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/vmtier/internal/config"
	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/runtime"
	"github.com/roach88/vmtier/internal/store"
	"github.com/roach88/vmtier/internal/testutil"
)

// Option configures a harness run.
type Option func(*options)

type options struct {
	store  runtime.ArtifactStore
	logger *slog.Logger
}

// WithStore runs the workload against s instead of the config's store_path.
func WithStore(s runtime.ArtifactStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the runtime logger. Defaults to discarding all output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Env is a runtime wired with fake collaborators for one workload.
type Env struct {
	Runtime     *runtime.Runtime
	Config      config.File
	Blocks      map[ir.GuestAddr]*ir.Block
	Backend     *FakeBackend
	Interpreter *FakeInterpreter
	Dispatcher  *FakeDispatcher
	Clock       *testutil.FakeClock

	store  runtime.ArtifactStore
	closer io.Closer
}

// NewEnv builds the runtime for w. The clock is frozen, job IDs are
// sequential and upgrades compile synchronously, so runs are reproducible.
// Close the Env when done.
func NewEnv(w *Workload, opts ...Option) (*Env, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := w.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg, err := file.RuntimeConfig()
	if err != nil {
		return nil, err
	}
	blocks, err := w.BuildBlocks()
	if err != nil {
		return nil, err
	}

	env := &Env{
		Config:      file,
		Blocks:      blocks,
		Backend:     NewFakeBackend(),
		Interpreter: NewFakeInterpreter(),
		Dispatcher:  NewFakeDispatcher(),
		Clock:       testutil.NewFakeClock(),
		store:       o.store,
	}
	for _, addr := range w.FailCompile {
		env.Backend.Reject(ir.GuestAddr(addr))
	}

	if env.store == nil && file.Runtime.StorePath != "" {
		st, err := store.Open(file.Runtime.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		env.store = st
		env.closer = st
	}

	rtOpts := append(file.RuntimeOptions(),
		runtime.WithBackend(env.Backend),
		runtime.WithInterpreter(env.Interpreter),
		runtime.WithDispatcher(env.Dispatcher),
		runtime.WithClock(env.Clock.Now),
		runtime.WithIDGenerator(testutil.NewSequentialIDGenerator("job")),
		runtime.WithLogger(o.logger),
		runtime.WithSyncUpgrades(),
	)
	if env.store != nil {
		rtOpts = append(rtOpts, runtime.WithStore(env.store))
	}

	rt, err := runtime.New(cfg, rtOpts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Runtime = rt
	return env, nil
}

// SortedBlocks returns the workload's blocks ordered by address.
func (e *Env) SortedBlocks() []*ir.Block {
	out := make([]*ir.Block, 0, len(e.Blocks))
	for _, b := range e.Blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartPC < out[j].StartPC })
	return out
}

// Close stops the runtime and closes a store opened from the config.
func (e *Env) Close() error {
	if e.Runtime != nil {
		e.Runtime.Close()
	}
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// Run executes a workload and evaluates its assertions.
//
// Execution flow:
// 1. Build the runtime from the workload's config
// 2. Load the stored profile if profiling is enabled
// 3. Execute the trace in order
// 4. Save the profile, take the report and evaluate assertions
func Run(w *Workload, opts ...Option) (*Result, error) {
	env, err := NewEnv(w, opts...)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	ctx := context.Background()
	rt := env.Runtime
	profiling := env.Config.Runtime.Profile && env.store != nil

	if profiling {
		if _, err := rt.LoadProfile(ctx); err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
	}

	result := NewResult()
	for _, step := range w.Trace {
		b := env.Blocks[ir.GuestAddr(step.Block)]
		for i := 0; i < step.Times(); i++ {
			result.Executions = append(result.Executions, rt.ExecuteBlock(ctx, b))
		}
	}

	if profiling {
		if err := rt.SaveProfile(ctx); err != nil {
			return nil, fmt.Errorf("save profile: %w", err)
		}
	}

	result.Report = rt.GenerateReport(env.Config.Runtime.HotspotTopN)
	for addr := range env.Blocks {
		if stats, ok := rt.GetBlockStats(addr); ok {
			result.Blocks[addr] = stats
		}
	}

	for _, msg := range EvaluateAssertions(env, result, w.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
