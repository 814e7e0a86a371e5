package txn

import "sync"

// ThreadContext is a worker-scoped shard of the running-transaction
// registry: a mutable set of start times for transactions begun on
// this worker, protected by a shared/exclusive latch so watermark
// reads (shared) don't block each other and only contend with
// insert/remove (exclusive). Owned by the Manager; destroyed on
// UnregisterWorker.
type ThreadContext struct {
	workerID int64

	mu      sync.RWMutex
	running map[Timestamp]struct{}
}

func newThreadContext(workerID int64) *ThreadContext {
	return &ThreadContext{
		workerID: workerID,
		running:  make(map[Timestamp]struct{}),
	}
}

// WorkerID returns the id this context was registered under.
func (tc *ThreadContext) WorkerID() int64 {
	return tc.workerID
}

func (tc *ThreadContext) insert(ts Timestamp) {
	tc.mu.Lock()
	tc.running[ts] = struct{}{}
	tc.mu.Unlock()
}

func (tc *ThreadContext) remove(ts Timestamp) {
	tc.mu.Lock()
	delete(tc.running, ts)
	tc.mu.Unlock()
}

// min folds the minimum start time currently in this context's running
// set under a shared lock, reporting ok=false if the set is empty.
func (tc *ThreadContext) min() (ts Timestamp, ok bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	first := true
	for t := range tc.running {
		if first || t < ts {
			ts = t
			first = false
		}
	}
	return ts, !first
}

// isEmpty reports whether this context currently has no running
// transactions. Used to confirm an orderly UnregisterWorker.
func (tc *ThreadContext) isEmpty() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.running) == 0
}
