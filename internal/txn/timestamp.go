package txn

import "sync/atomic"

// TimestampSource issues unique, monotonically increasing timestamps
// from a single atomic counter shared by start and commit times. Next
// is wait-free. Wrap-around of the underlying uint64 is not handled —
// unreachable within any realistic operational lifetime at one
// timestamp per nanosecond (see DESIGN.md, Open Question 2).
type TimestampSource struct {
	counter atomic.Uint64
}

// Next returns the next timestamp.
func (s *TimestampSource) Next() Timestamp {
	return Timestamp(s.counter.Add(1))
}

// Current returns the most recently issued timestamp without
// allocating a new one. Used as an upper bound by
// OldestTransactionStartTime: no timestamp issued after this read can
// be older than any live transaction observed during the same call.
func (s *TimestampSource) Current() Timestamp {
	return Timestamp(s.counter.Load())
}
