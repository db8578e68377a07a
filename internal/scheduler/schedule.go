package scheduler

import (
	"container/heap"
	"time"

	"github.com/roach88/vmtier/internal/ir"
)

// readyOp is an op whose predecessors are all scheduled.
type readyOp struct {
	readyAt int
	index   int
}

// readyHeap orders by ready time, then by original index.
type readyHeap []readyOp

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].readyAt == h[j].readyAt {
		return h[i].index < h[j].index
	}
	return h[i].readyAt < h[j].readyAt
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *readyHeap) Push(x any) {
	*h = append(*h, x.(readyOp))
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Stats describes one scheduling run.
type Stats struct {
	OriginalOps        int           `json:"original_ops"`
	ScheduledOps       int           `json:"scheduled_ops"`
	DependencyEdges    int           `json:"dependency_edges"`
	CriticalPathLength int           `json:"critical_path_length"`
	Reordered          bool          `json:"reordered"`
	SchedulingTime     time.Duration `json:"scheduling_time_ns"`
}

// Order list-schedules g and returns a permutation of op indices.
//
// Each step picks the ready op with the earliest ready time; ties go to the
// lowest original index. The virtual clock advances by one per scheduled op.
// When an op is scheduled at clock c, each successor's ready time becomes
// max(current, c + edge latency), and a successor enters the ready set once
// all of its predecessors are scheduled.
func Order(g *Graph) []int {
	n := len(g.Ops)
	remaining := make([]int, n)
	readyAt := make([]int, n)
	h := make(readyHeap, 0, n)
	for i := 0; i < n; i++ {
		remaining[i] = len(g.preds[i])
		if remaining[i] == 0 {
			h = append(h, readyOp{index: i})
		}
	}
	heap.Init(&h)

	order := make([]int, 0, n)
	clock := 0
	for h.Len() > 0 {
		next := heap.Pop(&h).(readyOp)
		order = append(order, next.index)

		for _, e := range g.succs[next.index] {
			edge := g.Edges[e]
			if t := clock + edge.Latency; t > readyAt[edge.To] {
				readyAt[edge.To] = t
			}
			remaining[edge.To]--
			if remaining[edge.To] == 0 {
				heap.Push(&h, readyOp{readyAt: readyAt[edge.To], index: edge.To})
			}
		}
		clock++
	}
	return order
}

// Schedule reorders ops. The input slice is not modified.
func Schedule(ops []ir.Op) ([]ir.Op, Stats) {
	start := time.Now()
	g := BuildGraph(ops)
	order := Order(g)

	out := make([]ir.Op, len(order))
	reordered := false
	for pos, idx := range order {
		out[pos] = ops[idx]
		if pos != idx {
			reordered = true
		}
	}

	return out, Stats{
		OriginalOps:        len(ops),
		ScheduledOps:       len(out),
		DependencyEdges:    len(g.Edges),
		CriticalPathLength: g.CriticalPath(),
		Reordered:          reordered,
		SchedulingTime:     time.Since(start),
	}
}

// ScheduleBlock returns a copy of b with its ops scheduled.
func ScheduleBlock(b *ir.Block) (*ir.Block, Stats) {
	ops, stats := Schedule(b.Ops)
	return &ir.Block{StartPC: b.StartPC, Ops: ops, Term: b.Term}, stats
}
