// Package ir provides the guest intermediate representation consumed by vmtier.
//
// Blocks are produced by an external lifter; this package only models them.
// All other internal packages import ir; ir imports nothing internal. This
// keeps IR as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Blocks are immutable while owned by a cache or the runtime; passes that
//     rewrite ops work on a Clone
//   - Registers are virtual and unbounded; r0 is an ordinary register
//   - Arithmetic is 64-bit two's complement with wrapping overflow
package ir
