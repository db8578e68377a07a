// Package scheduler reorders the ops of a block to hide latency.
//
// BuildGraph records every ordering constraint between ops of one block;
// Schedule performs list scheduling over that graph. Edges always run from
// a lower op index to a higher one, so the graph is acyclic by construction
// and scheduling cannot fail.
package scheduler

import (
	"fmt"
	"strings"

	"github.com/roach88/vmtier/internal/ir"
)

// DepKind classifies an ordering constraint.
type DepKind uint8

const (
	// DepTrue: the later op reads a register the earlier op writes (RAW).
	DepTrue DepKind = iota
	// DepAnti: the later op writes a register the earlier op reads (WAR).
	DepAnti
	// DepOutput: both ops write the same register (WAW).
	DepOutput
	// DepMemory orders loads and stores that may alias.
	DepMemory
	// DepControl pins ops to their side of a branch, jump or call.
	DepControl
)

func (k DepKind) String() string {
	switch k {
	case DepTrue:
		return "true"
	case DepAnti:
		return "anti"
	case DepOutput:
		return "output"
	case DepMemory:
		return "memory"
	case DepControl:
		return "control"
	}
	return fmt.Sprintf("dep(%d)", uint8(k))
}

// Latency returns the estimated cycles before the result of op is available.
func Latency(op ir.Op) int {
	switch op.Category() {
	case ir.CategoryMultiply:
		return 3
	case ir.CategoryDivide:
		return 10
	case ir.CategoryLoad:
		return 4
	case ir.CategoryStore:
		return 3
	default:
		return 1
	}
}

// Dependency is a directed edge From -> To with From < To.
type Dependency struct {
	From    int     `json:"from"`
	To      int     `json:"to"`
	Kind    DepKind `json:"kind"`
	Latency int     `json:"latency"`
}

// Graph is the dependency graph of one op sequence.
type Graph struct {
	Ops   []ir.Op
	Edges []Dependency

	succs [][]int // edge indices by From
	preds [][]int // edge indices by To
}

// Successors returns the edges leaving op i.
func (g *Graph) Successors(i int) []Dependency {
	out := make([]Dependency, len(g.succs[i]))
	for k, e := range g.succs[i] {
		out[k] = g.Edges[e]
	}
	return out
}

// Predecessors returns the edges entering op i.
func (g *Graph) Predecessors(i int) []Dependency {
	out := make([]Dependency, len(g.preds[i]))
	for k, e := range g.preds[i] {
		out[k] = g.Edges[e]
	}
	return out
}

// HasEdge reports whether an edge of kind from -> to exists.
func (g *Graph) HasEdge(from, to int, kind DepKind) bool {
	for _, e := range g.succs[from] {
		if g.Edges[e].To == to && g.Edges[e].Kind == kind {
			return true
		}
	}
	return false
}

// CriticalPath returns the latency-weighted length of the longest chain,
// including the latency of its final op.
func (g *Graph) CriticalPath() int {
	dist := make([]int, len(g.Ops))
	longest := 0
	for j := range g.Ops {
		for _, e := range g.preds[j] {
			edge := g.Edges[e]
			if d := dist[edge.From] + edge.Latency; d > dist[j] {
				dist[j] = d
			}
		}
		if total := dist[j] + Latency(g.Ops[j]); total > longest {
			longest = total
		}
	}
	return longest
}

// String renders one edge per line, for inspection output.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "%d -> %d %s (%d)\n", e.From, e.To, e.Kind, e.Latency)
	}
	return sb.String()
}

type edgeKey struct {
	from, to int
	kind     DepKind
}

// builder accumulates edges, keeping one edge per (from, to, kind). A pair
// of ops may be linked by several kinds at once, such as true and output
// for a read-modify-write of the same register.
type builder struct {
	g     *Graph
	index map[edgeKey]struct{}
}

func (b *builder) add(from, to int, kind DepKind) {
	if from == to {
		return
	}
	key := edgeKey{from, to, kind}
	if _, ok := b.index[key]; ok {
		return
	}
	b.index[key] = struct{}{}
	b.g.succs[from] = append(b.g.succs[from], len(b.g.Edges))
	b.g.preds[to] = append(b.g.preds[to], len(b.g.Edges))
	b.g.Edges = append(b.g.Edges, Dependency{From: from, To: to, Kind: kind, Latency: Latency(b.g.Ops[from])})
}

// BuildGraph computes register, memory and control dependencies over ops.
//
// One forward pass keeps the last writer and the readers since that write
// for every register. True and output edges come from the last writer; anti
// edges come from each pending reader. Memory is modelled as a single
// location, so every store orders against every load and store. Control ops
// are barriers: nothing crosses them in either direction.
func BuildGraph(ops []ir.Op) *Graph {
	g := &Graph{
		Ops:   ops,
		succs: make([][]int, len(ops)),
		preds: make([][]int, len(ops)),
	}
	b := &builder{g: g, index: make(map[edgeKey]struct{})}

	lastWriter := make(map[ir.Reg]int)
	readers := make(map[ir.Reg][]int)
	lastStore := -1
	var loadsSinceStore []int
	lastControl := -1

	for j, op := range ops {
		uses := op.Uses()
		for _, r := range uses {
			if w, ok := lastWriter[r]; ok {
				b.add(w, j, DepTrue)
			}
		}

		d, defines := op.Def()
		if defines {
			if w, ok := lastWriter[d]; ok {
				b.add(w, j, DepOutput)
			}
			for _, i := range readers[d] {
				b.add(i, j, DepAnti)
			}
		}

		switch op.Category() {
		case ir.CategoryLoad:
			if lastStore >= 0 {
				b.add(lastStore, j, DepMemory)
			}
			loadsSinceStore = append(loadsSinceStore, j)
		case ir.CategoryStore:
			if lastStore >= 0 {
				b.add(lastStore, j, DepMemory)
			}
			for _, l := range loadsSinceStore {
				b.add(l, j, DepMemory)
			}
			lastStore = j
			loadsSinceStore = loadsSinceStore[:0]
		}

		if op.Code.IsControl() {
			for i := lastControl + 1; i < j; i++ {
				b.add(i, j, DepControl)
			}
			if lastControl >= 0 {
				b.add(lastControl, j, DepControl)
			}
			lastControl = j
		} else if lastControl >= 0 {
			b.add(lastControl, j, DepControl)
		}

		if defines {
			lastWriter[d] = j
			readers[d] = nil
		}
		for _, r := range uses {
			if defines && r == d {
				continue
			}
			readers[r] = append(readers[r], j)
		}
	}
	return g
}
