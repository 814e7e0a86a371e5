package txn

import (
	"runtime"
	"sync/atomic"
)

// spinLatch is a mutual-exclusion lock for short, uncontended critical
// sections: the workers set, the global running-transaction set, and
// the completed-transactions queue. It trades fairness for avoiding
// the syscall path sync.Mutex falls back to under contention, matching
// the source's use of a dedicated spin primitive distinct from the
// reader/writer commit latch.
type spinLatch struct {
	locked atomic.Bool
}

// Lock spins until the latch is acquired, yielding the processor after
// a few failed attempts to avoid burning a core under real contention.
func (s *spinLatch) Lock() {
	spins := 0
	for !s.locked.CompareAndSwap(false, true) {
		spins++
		if spins > 32 {
			runtime.Gosched()
			spins = 0
		}
	}
}

// Unlock releases the latch.
func (s *spinLatch) Unlock() {
	s.locked.Store(false)
}
