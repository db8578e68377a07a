// Package harness runs deterministic tiering workloads against the runtime.
//
// A workload declares guest blocks in textual IR, a trace of block
// executions and assertions on the final state. The harness drives a
// runtime with fake collaborators, a frozen clock, sequential job IDs and
// synchronous upgrades, so every run of a workload yields the same report.
//
// # Workload Format
//
//	name: tierup
//	description: "one block climbs interpreter -> jit -> aot"
//	config:            # optional inline config document
//	  policy:
//	    jit_threshold: 3
//	    aot_threshold: 6
//	blocks:
//	  - addr: 0x1000
//	    ops: ["movi r1, 10", "movi r2, 20", "add r3, r1, r2"]
//	    term: ret
//	fail_compile: [0x2000]   # the fake backend rejects these blocks
//	trace:
//	  - block: 0x1000
//	    repeat: 8
//	assertions:
//	  - type: mode
//	    block: 0x1000
//	    expect: aot
//
// # Assertion Types
//
//   - mode: the block's recorded execution mode
//   - count: the block's execution count (value)
//   - tier: the code cache tier holding the block (l1, l2, l3 or none)
//   - compiled: the mode of the installed code (jit, aot or none)
//   - stat: an aggregate execution counter (stat, value)
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON of the execution trace and the
// final report against testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
