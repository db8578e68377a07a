package runtime

import "sync/atomic"

// compileSeq numbers compilations in the order they start.
//
// A CompiledBlock carries the number its compile drew, so install can tell
// a slow, earlier compile from a newer one that already finished, and
// invalidation can fence off every compile that started before it.
type compileSeq struct {
	n atomic.Int64
}

// next draws the number for a compile that is starting now.
func (s *compileSeq) next() int64 {
	return s.n.Add(1)
}

// current returns the most recently drawn number.
func (s *compileSeq) current() int64 {
	return s.n.Load()
}
