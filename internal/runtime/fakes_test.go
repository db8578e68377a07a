package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/testutil"
)

// fakeBackend emits [mode, low pc byte, op count] and fails configured blocks.
type fakeBackend struct {
	mu     sync.Mutex
	calls  map[ir.GuestAddr]int
	fail   map[ir.GuestAddr]error
	total  int
	blocks []*ir.Block
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[ir.GuestAddr]int), fail: make(map[ir.GuestAddr]error)}
}

func (f *fakeBackend) failWith(addr ir.GuestAddr, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[addr] = err
}

func (f *fakeBackend) Emit(_ context.Context, b *ir.Block, mode policy.Mode) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[b.StartPC]++
	f.total++
	f.blocks = append(f.blocks, b)
	if err, ok := f.fail[b.StartPC]; ok {
		return nil, err
	}
	return []byte{byte(mode), byte(b.StartPC), byte(len(b.Ops))}, nil
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

type fakeInterpreter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeInterpreter) Interpret(context.Context, *ir.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeInterpreter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDispatcher struct {
	mu   sync.Mutex
	code [][]byte
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *ir.Block, code []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = append(f.code, append([]byte(nil), code...))
	return f.err
}

func (f *fakeDispatcher) Last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.code) == 0 {
		return nil
	}
	return f.code[len(f.code)-1]
}

type testEnv struct {
	rt      *Runtime
	backend *fakeBackend
	interp  *fakeInterpreter
	disp    *fakeDispatcher
	clock   *testutil.FakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPolicy promotes to JIT at 3 and to AOT at 6.
func testPolicy() policy.Policy {
	p := policy.Default()
	p.JITThreshold = 3
	p.AOTThreshold = 6
	return p
}

func newTestEnv(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		backend: newFakeBackend(),
		interp:  &fakeInterpreter{},
		disp:    &fakeDispatcher{},
		clock:   testutil.NewFakeClock(),
	}
	base := []Option{
		WithBackend(env.backend),
		WithInterpreter(env.interp),
		WithDispatcher(env.disp),
		WithClock(env.clock.Now),
		WithLogger(discardLogger()),
		WithIDGenerator(testutil.NewSequentialIDGenerator("job")),
	}
	rt, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	env.rt = rt
	return env
}

func syncConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy = testPolicy()
	return cfg
}

var errBackendDown = errors.New("backend down")
