// Package runtime implements the hybrid execution core: it tracks how often
// each guest block runs, picks an execution mode from the tiering policy, and
// compiles blocks through the optimizer, the scheduler and an external
// backend when they get hot.
//
// ARCHITECTURE:
//
// Execution Path:
// 1. ExecuteBlock looks up (or lazily creates) the block's statistics record
// 2. The policy maps the execution count to a mode
// 3. Interpreter mode hands the block to the Interpreter; compiled modes
// reuse installed code, or compile synchronously through the per-mode
// memoization cache
// 4. Statistics are updated after the block ran
// 5. Crossing a threshold enqueues a fire-and-forget upgrade request
//
// Upgrade Worker:
// Run drains the upgrade queue with at most MaxConcurrentCompilations
// compiles in flight. WithSyncUpgrades processes requests inline instead,
// which makes runs reproducible for the harness and the CLI.
//
// Compile failures never abort execution. The block is interpreted, the
// result reports Success=false, and the recorded mode stays Interpreter so
// the compile is retried on a later run.
//
// Locking:
// The block table, the compiled-code table, the pending-upgrade set and the
// statistics counters each have their own mutex. Compilation runs outside
// every lock; only installing the result is a locked operation.
package runtime
