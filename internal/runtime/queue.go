package runtime

import (
	"sync"

	"github.com/roach88/vmtier/internal/ir"
	"github.com/roach88/vmtier/internal/policy"
)

// upgradeRequest asks the worker to compile block at target.
type upgradeRequest struct {
	block  *ir.Block
	target policy.Mode
}

// upgradeQueue is a thread-safe FIFO of upgrade requests.
//
// The queue is unbounded so that ExecuteBlock never blocks on its own
// promotion. Pending requests are deduplicated per block by the runtime
// before they get here.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type upgradeQueue struct {
	mu       sync.Mutex
	requests []upgradeRequest
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newUpgradeQueue() *upgradeQueue {
	return &upgradeQueue{
		requests: make([]upgradeRequest, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *upgradeQueue) Enqueue(r upgradeRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *upgradeQueue) TryDequeue() (upgradeRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return upgradeRequest{}, false
	}

	r := q.requests[0]
	// Nil out the slot so the block can be collected
	q.requests[0] = upgradeRequest{}

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Drain removes and returns every queued request.
func (q *upgradeQueue) Drain() []upgradeRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]upgradeRequest, len(q.requests))
	copy(out, q.requests)
	clear(q.requests)
	q.requests = q.requests[:0]
	return out
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed by Close.
func (q *upgradeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *upgradeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Close signals that no more requests will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *upgradeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
