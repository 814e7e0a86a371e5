package txn

import (
	"fmt"
	"sync"

	"github.com/emberdb/emberdb/internal/errors"
	"github.com/emberdb/emberdb/internal/log"
)

// ManagerOptions configures a Manager at construction time.
type ManagerOptions struct {
	// GCEnabled controls whether completed transactions are pushed onto
	// the GC handoff queue. When false, Commit and Abort still run their
	// full critical sections but skip the completedTxns push.
	GCEnabled bool

	// LogManager is the write-ahead log sink. A nil value (the default)
	// disables logging: commit callbacks run synchronously.
	LogManager LogManager

	// SegmentPool backs undo/redo buffer growth. A nil value (the
	// default) means buffers grow unbounded in memory, which is fine for
	// tests and the demo CLI but not for a production deployment.
	SegmentPool SegmentPool

	Logger log.Logger
}

// Manager is the transaction manager: it owns timestamp issuance, the
// running-transaction registry (global set plus per-worker
// ThreadContexts), the single-writer commit critical section, the
// abort/rollback engine, and the GC handoff queue.
//
// The commit latch is the only latch this type takes across multiple
// unrelated operations: shared in Begin, exclusive in updating Commit,
// never in Abort. DESIGN.md's manager.go entry explains why.
//
// completedTxnsLatch is intentionally aliased to globalRunningLatch
// (see DESIGN.md, Open Question 3): both the global running set and
// the completed-transactions queue are touched in the same short
// critical section during commit/abort cleanup.
type Manager struct {
	timestamps TimestampSource

	commitLatch sync.RWMutex

	workersLatch spinLatch
	workers      map[*ThreadContext]struct{}

	globalRunningLatch spinLatch
	globalRunning      map[Timestamp]struct{}
	completedTxns      []*TransactionContext

	gcEnabled   bool
	logManager  LogManager
	segmentPool SegmentPool
	logger      log.Logger
}

// NewManager constructs a Manager. opts may be nil to take all defaults
// (GC disabled, logging disabled, unbounded buffers).
func NewManager(opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With(log.Component("txn"))
	return &Manager{
		workers:       make(map[*ThreadContext]struct{}),
		globalRunning: make(map[Timestamp]struct{}),
		gcEnabled:     opts.GCEnabled,
		logManager:    opts.LogManager,
		segmentPool:   opts.SegmentPool,
		logger:        logger,
	}
}

// NextTimestamp exposes the timestamp source for callers (e.g. tests,
// or a snapshot-read layer) that need a timestamp outside a
// transaction's own lifecycle.
func (m *Manager) NextTimestamp() Timestamp {
	return m.timestamps.Next()
}

// GCEnabled reports whether completed transactions are queued for GC.
func (m *Manager) GCEnabled() bool {
	return m.gcEnabled
}

// RegisterWorker allocates a fresh ThreadContext with an empty running
// set, inserts it into the workers set under the workers spin latch,
// and returns a non-owning handle. workerID is caller-supplied and
// purely informational (logging, Stats).
func (m *Manager) RegisterWorker(workerID int64) *ThreadContext {
	tc := newThreadContext(workerID)
	m.workersLatch.Lock()
	m.workers[tc] = struct{}{}
	m.workersLatch.Unlock()
	return tc
}

// UnregisterWorker removes tc from the workers set and releases it.
// The caller must ensure no transactions are in flight on tc; in a
// debug build this would assert tc.isEmpty(), here it is logged as an
// internal error instead of panicking.
func (m *Manager) UnregisterWorker(tc *ThreadContext) {
	if !tc.isEmpty() {
		m.logger.Error("unregistering worker with running transactions",
			log.Int64("worker_id", tc.WorkerID()))
	}
	m.workersLatch.Lock()
	delete(m.workers, tc)
	m.workersLatch.Unlock()
}

// OldestTransactionStartTime returns a lower bound on every start time
// currently in any running set: an upper-bound read of the timestamp
// counter followed by folding the minimum across every worker's
// running set (each taken under its own shared latch) and the global
// running set (spin latch), in that order, per §4.2.
func (m *Manager) OldestTransactionStartTime() Timestamp {
	oldest := m.timestamps.Current()

	m.workersLatch.Lock()
	workers := make([]*ThreadContext, 0, len(m.workers))
	for tc := range m.workers {
		workers = append(workers, tc)
	}
	m.workersLatch.Unlock()

	for _, tc := range workers {
		if ts, ok := tc.min(); ok && ts < oldest {
			oldest = ts
		}
	}

	m.globalRunningLatch.Lock()
	for ts := range m.globalRunning {
		if ts < oldest {
			oldest = ts
		}
	}
	m.globalRunningLatch.Unlock()

	return oldest
}

// Begin starts a new transaction. tc may be nil, in which case the
// transaction's start time is tracked in the global running set
// instead of a worker's shard.
//
// The commit latch is held shared for the duration of this call. If a
// concurrent updating Commit raced to completion between the
// timestamp read and the running-set insertion below, it would be free
// to hand this (not-yet-visible) transaction's predecessors to the GC
// before the transaction is registered; holding the latch shared
// blocks that commit's exclusive acquisition until Begin finishes.
func (m *Manager) Begin(tc *ThreadContext) *TransactionContext {
	m.commitLatch.RLock()
	defer m.commitLatch.RUnlock()

	start := m.timestamps.Next()

	txn := &TransactionContext{
		StartTime:     start,
		ThreadContext: tc,
	}
	txn.txnID.store(SpeculativeID(start))

	if m.segmentPool != nil {
		if seg, err := m.segmentPool.AllocateUndoSegment(); err == nil {
			txn.undo.segment = seg
		} else {
			m.logger.Warn("undo segment allocation failed, falling back to unbounded growth",
				log.String("error", err.Error()))
		}
		if seg, err := m.segmentPool.AllocateRedoSegment(); err == nil {
			txn.redo.segment = seg
		} else {
			m.logger.Warn("redo segment allocation failed, falling back to unbounded growth",
				log.String("error", err.Error()))
		}
	}

	if tc != nil {
		tc.insert(start)
	} else {
		m.globalRunningLatch.Lock()
		m.globalRunning[start] = struct{}{}
		m.globalRunningLatch.Unlock()
	}

	return txn
}

// Commit commits txn, choosing the read-only or updating path based on
// whether any undo records were produced. callback is invoked with arg
// once the commit record is durable (or immediately, if logging is
// disabled). Returns the commit timestamp.
func (m *Manager) Commit(txn *TransactionContext, callback func(arg any), arg any) (Timestamp, error) {
	if txn.LogProcessed {
		return 0, errors.InvalidTransactionStateError("commit called on an already-finalized transaction")
	}

	var (
		commitTS Timestamp
		err      error
	)

	if txn.undo.isEmpty() {
		commitTS, err = m.readOnlyCommit(txn, callback, arg)
	} else {
		commitTS, err = m.updatingCommit(txn, callback, arg)
	}
	if err != nil {
		return 0, err
	}

	m.postCommitCleanup(txn)
	return commitTS, nil
}

// readOnlyCommit handles a transaction with no undo records. No
// serialization is required: nothing can observe a read-only
// transaction's effects, but the log manager is still informed so any
// speculative reads it is validating resolve correctly.
func (m *Manager) readOnlyCommit(txn *TransactionContext, callback func(arg any), arg any) (Timestamp, error) {
	commitTS := m.timestamps.Next()
	if err := m.logCommit(txn, commitTS, true, callback, arg); err != nil {
		return 0, err
	}
	return commitTS, nil
}

// updatingCommit handles a transaction with at least one undo record.
// The commit latch is held exclusively across timestamp allocation,
// commit-record emission, and the undo-buffer timestamp flip: that
// single critical section is what makes commit order equal log order
// (invariant 3) and makes each undo record's timestamp visible to
// concurrent readers atomically with the commit.
func (m *Manager) updatingCommit(txn *TransactionContext, callback func(arg any), arg any) (Timestamp, error) {
	m.commitLatch.Lock()
	defer m.commitLatch.Unlock()

	commitTS := m.timestamps.Next()

	if err := m.logCommit(txn, commitTS, false, callback, arg); err != nil {
		return 0, err
	}

	committedID := TransactionID(commitTS)
	for _, rec := range txn.undo.all() {
		rec.SetTimestamp(committedID)
	}

	return commitTS, nil
}

// logCommit implements the LogCommit contract: the transaction's id is
// flipped to the commit timestamp first, so any reader racing this
// call sees the committed id rather than a stale speculative one. If
// logging is disabled, the callback runs synchronously and
// LogProcessed is set immediately; otherwise the finalized commit
// record is handed to the LogManager, which owns invoking callback
// once the record is durable.
func (m *Manager) logCommit(txn *TransactionContext, commitTS Timestamp, readOnly bool, callback func(arg any), arg any) error {
	txn.txnID.store(TransactionID(commitTS))

	if m.logManager == nil || !m.logManager.Enabled() {
		txn.LogProcessed = true
		if callback != nil {
			callback(arg)
		}
		return nil
	}

	rec := CommitRecord{
		StartTime:  txn.StartTime,
		CommitTime: commitTS,
		IsReadOnly: readOnly,
	}
	txn.redo.commit = &rec

	if err := m.logManager.Submit(txn, rec, callback, arg); err != nil {
		return errors.Newf(errors.InternalError, "submit commit record: %v", err)
	}
	txn.LogProcessed = true
	return nil
}

// postCommitCleanup removes the transaction from its running set and,
// if GC is enabled, pushes it onto the completed queue. Shared by both
// commit paths and by Abort.
func (m *Manager) postCommitCleanup(txn *TransactionContext) {
	m.removeFromRunningSet(txn)
	if m.gcEnabled {
		m.globalRunningLatch.Lock()
		m.completedTxns = append(m.completedTxns, txn)
		m.globalRunningLatch.Unlock()
	}
}

func (m *Manager) removeFromRunningSet(txn *TransactionContext) {
	if txn.ThreadContext != nil {
		txn.ThreadContext.remove(txn.StartTime)
		return
	}
	m.globalRunningLatch.Lock()
	delete(m.globalRunning, txn.StartTime)
	m.globalRunningLatch.Unlock()
}

// Abort rolls txn back: its undo records are walked newest-first and
// reversed, any variable-length payload belonging to an uninstalled
// last update is reclaimed, the redo buffer is discarded, and the
// transaction is handed to the GC exactly as a commit would be. No
// commit latch is required — all state touched here is either
// transaction-local or guarded by the per-slot write lock implied by
// version-chain ownership.
func (m *Manager) Abort(txn *TransactionContext) error {
	if txn.LogProcessed {
		return errors.InvalidTransactionStateError("abort called on an already-finalized transaction")
	}

	for _, rec := range txn.undo.newestFirst() {
		if err := m.rollback(txn, rec); err != nil {
			return err
		}
	}

	m.gcLastUpdateOnAbort(txn)

	txn.redo.records = nil
	txn.redo.segLen = 0
	txn.redo.commit = nil
	txn.LogProcessed = true

	m.postCommitCleanup(txn)
	return nil
}

// rollback reverses a single undo record. If the record was never
// installed into the version chain (Table == nil, lost a write-write
// race), there is nothing to unlink and it is skipped.
func (m *Manager) rollback(txn *TransactionContext, rec *UndoRecord) error {
	if rec.Table == nil {
		return nil
	}

	head := rec.Table.AtomicReadVersionPtr(rec.Slot)
	if head == nil || head.Timestamp() != txn.TxnID() {
		return errors.RollbackProtocolViolationError(
			fmt.Sprintf("slot %+v, delta kind %v, aborting txn %v", rec.Slot, rec.Kind, txn.TxnID()))
	}

	layout := rec.Table.BlockLayout()

	switch rec.Kind {
	case DeltaUpdate:
		for _, col := range rec.Delta.Columns() {
			if layout.IsVarlen(col) {
				if cur, isNull := rec.Table.AccessWithNullCheck(rec.Slot, col); !isNull {
					txn.LoosePtrs = append(txn.LoosePtrs, LoosePtr(cur))
				}
			}
			value, isNull := rec.Delta.Value(col)
			if isNull {
				rec.Table.SetNull(rec.Slot, col)
			} else {
				rec.Table.SetColumn(rec.Slot, col, value)
			}
		}

	case DeltaInsert:
		for col := ColumnID(0); col < ColumnID(layout.NumColumns()); col++ {
			if !layout.IsVarlen(col) {
				continue
			}
			if cur, isNull := rec.Table.AccessWithNullCheck(rec.Slot, col); !isNull {
				txn.LoosePtrs = append(txn.LoosePtrs, LoosePtr(cur))
			}
		}
		rec.Table.Deallocate(rec.Slot)

	case DeltaDelete:
		for _, col := range rec.Delta.Columns() {
			value, isNull := rec.Delta.Value(col)
			if isNull {
				rec.Table.SetNull(rec.Slot, col)
			} else {
				rec.Table.SetColumn(rec.Slot, col, value)
			}
		}

	default:
		return errors.InternalErrorf("rollback: unknown delta kind %v", rec.Kind)
	}

	rec.Table.AtomicWriteVersionPtr(rec.Slot, rec.Next)
	return nil
}

// gcLastUpdateOnAbort reclaims variable-length payloads belonging to
// the transaction's last update when that update's redo record was
// appended but its undo record never got installed into the version
// chain — a write-write conflict detected after the redo append but
// before chain installation, which would otherwise leak those
// payloads. Every non-NULL column value in that redo delta is queued
// onto LoosePtrs, fixed-width columns included: the uninstalled undo
// record carries no Table whose layout could tell them apart.
func (m *Manager) gcLastUpdateOnAbort(txn *TransactionContext) {
	lastRedo, ok := txn.redo.lastDelta()
	if !ok {
		return
	}
	if lastRedo.Kind != DeltaUpdate {
		return
	}

	lastUndo := txn.undo.last()
	if lastUndo == nil || lastUndo.Slot != lastRedo.Slot {
		return
	}
	if lastUndo.Table != nil {
		// Installed; ordinary rollback above already reclaimed varlens.
		return
	}

	for _, col := range lastRedo.Delta.Columns() {
		if value, isNull := lastRedo.Delta.Value(col); !isNull {
			txn.LoosePtrs = append(txn.LoosePtrs, LoosePtr(value))
		}
	}
}

// DrainCompleted moves the completed-transactions queue into the
// returned slice under a single spin-latch swap, leaving the internal
// queue empty. Ownership of the contexts transfers to the caller
// (typically the garbage collector).
func (m *Manager) DrainCompleted() []*TransactionContext {
	m.globalRunningLatch.Lock()
	defer m.globalRunningLatch.Unlock()

	out := m.completedTxns
	m.completedTxns = nil
	return out
}

// Stats reports a point-in-time snapshot of manager activity: the
// count of currently running transactions, the depth of the completed
// (GC handoff) queue, and the current watermark. It takes the same
// latches as OldestTransactionStartTime and is read-only.
type Stats struct {
	RunningTransactions int
	CompletedQueueDepth int
	OldestStartTime     Timestamp
}

// Stats returns a Stats snapshot.
func (m *Manager) Stats() Stats {
	running := 0

	m.workersLatch.Lock()
	workers := make([]*ThreadContext, 0, len(m.workers))
	for tc := range m.workers {
		workers = append(workers, tc)
	}
	m.workersLatch.Unlock()

	for _, tc := range workers {
		tc.mu.RLock()
		running += len(tc.running)
		tc.mu.RUnlock()
	}

	m.globalRunningLatch.Lock()
	running += len(m.globalRunning)
	depth := len(m.completedTxns)
	m.globalRunningLatch.Unlock()

	return Stats{
		RunningTransactions: running,
		CompletedQueueDepth: depth,
		OldestStartTime:     m.OldestTransactionStartTime(),
	}
}

// Close drains any remaining completed transactions and logs an
// internal error if either running set is non-empty, signaling an
// unclean shutdown (a worker or global-scope transaction never
// reached Commit or Abort).
func (m *Manager) Close() error {
	remaining := m.DrainCompleted()
	if len(remaining) > 0 {
		m.logger.Info("dropping undrained completed transactions on close",
			log.Int("count", len(remaining)))
	}

	m.globalRunningLatch.Lock()
	globalLeft := len(m.globalRunning)
	m.globalRunningLatch.Unlock()

	m.workersLatch.Lock()
	workers := make([]*ThreadContext, 0, len(m.workers))
	for tc := range m.workers {
		workers = append(workers, tc)
	}
	m.workersLatch.Unlock()

	workerLeft := 0
	for _, tc := range workers {
		if !tc.isEmpty() {
			workerLeft++
		}
	}

	if globalLeft > 0 || workerLeft > 0 {
		m.logger.Error("manager closed with running transactions still registered",
			log.Int("global_running", globalLeft),
			log.Int("workers_with_running_txns", workerLeft))
	}
	return nil
}
