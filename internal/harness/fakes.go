package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
	"github.com/roach88/vmtier/internal/runtime"
)

// FakeBackend emits three bytes per block: the mode, the low byte of the
// start address and the op count after lowering. Blocks marked with Reject
// fail with an UNSUPPORTED_OPERATION compile error.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeBackend struct {
	mu     sync.Mutex
	reject map[ir.GuestAddr]bool
	emits  map[ir.GuestAddr]int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		reject: make(map[ir.GuestAddr]bool),
		emits:  make(map[ir.GuestAddr]int),
	}
}

// Reject makes every compile of addr fail.
func (f *FakeBackend) Reject(addr ir.GuestAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[addr] = true
}

func (f *FakeBackend) Emit(_ context.Context, b *ir.Block, mode policy.Mode) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits[b.StartPC]++
	if f.reject[b.StartPC] {
		return nil, runtime.NewCompileError(runtime.ErrKindUnsupportedOperation, b.StartPC, mode, "backend rejects block")
	}
	return []byte{byte(mode), byte(b.StartPC), byte(len(b.Ops))}, nil
}

// Emits returns how many times addr reached the backend.
func (f *FakeBackend) Emits(addr ir.GuestAddr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emits[addr]
}

// FakeInterpreter counts interpreted executions per block.
type FakeInterpreter struct {
	mu    sync.Mutex
	calls map[ir.GuestAddr]int
}

func NewFakeInterpreter() *FakeInterpreter {
	return &FakeInterpreter{calls: make(map[ir.GuestAddr]int)}
}

func (f *FakeInterpreter) Interpret(_ context.Context, b *ir.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[b.StartPC]++
	return nil
}

func (f *FakeInterpreter) Calls(addr ir.GuestAddr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr]
}

// FakeDispatcher counts dispatches per block and checks that the code it
// receives was emitted for that block.
type FakeDispatcher struct {
	mu    sync.Mutex
	calls map[ir.GuestAddr]int
}

func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{calls: make(map[ir.GuestAddr]int)}
}

func (f *FakeDispatcher) Dispatch(_ context.Context, b *ir.Block, code []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[b.StartPC]++
	if len(code) != 3 || code[1] != byte(b.StartPC) {
		return fmt.Errorf("dispatch %s: code % x was not emitted for this block", b.StartPC, code)
	}
	return nil
}

func (f *FakeDispatcher) Calls(addr ir.GuestAddr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr]
}
