// Package store provides SQLite-backed persistence for compiled code and
// execution profiles.
//
// Two tables:
//   - artifacts: AOT code keyed by (block content hash, mode), lz4-compressed
//   - profile: per-block execution counts used to seed tiering decisions
//
// Artifacts are content addressed, so writes are idempotent: a second write
// of the same (hash, mode) is silently ignored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: SQLite allows one writer
//
// Guest addresses are stored as INTEGER by reinterpreting the uint64 bits as
// int64, since database/sql rejects uint64 values with the high bit set.
package store
