package txn

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/emberdb/internal/errors"
	"github.com/emberdb/emberdb/internal/storage"
)

// fakeDelta is a minimal Delta backed by plain maps, used to build undo
// and redo records without pulling in a real projection implementation.
type fakeDelta struct {
	cols   []ColumnID
	values map[ColumnID][]byte
	nulls  map[ColumnID]bool
}

func (d *fakeDelta) Columns() []ColumnID { return d.cols }

func (d *fakeDelta) Value(col ColumnID) ([]byte, bool) {
	if d.nulls[col] {
		return nil, true
	}
	return d.values[col], false
}

func singleColDelta(col ColumnID, value []byte, isNull bool) *fakeDelta {
	return &fakeDelta{
		cols:   []ColumnID{col},
		values: map[ColumnID][]byte{col: value},
		nulls:  map[ColumnID]bool{col: isNull},
	}
}

func testLayout() *storage.MemBlockLayout {
	return storage.NewMemBlockLayout([]bool{false, true}, []int{8, 32})
}

// installUpdate models a single-column UPDATE against tbl on behalf of
// txn. When installed is true it mirrors a successful write: the
// before-image is captured into the chain's new head and the physical
// column is overwritten. When installed is false it mirrors a
// write-write conflict detected after the redo record was appended but
// before the chain install: the undo record is appended with Table=nil
// and the column is left untouched, leaving the attempted new value
// reachable only from the orphaned redo delta.
func installUpdate(tbl *storage.MemTable, tx *TransactionContext, slot TupleSlot, col ColumnID, newValue []byte, installed bool) *UndoRecord {
	before, beforeNull := tbl.AccessWithNullCheck(slot, col)
	undoDelta := singleColDelta(col, before, beforeNull)

	head := tbl.AtomicReadVersionPtr(slot)
	rec := NewUndoRecord(slot, DeltaUpdate, undoDelta, head, tx.TxnID())
	if installed {
		rec.Table = tbl
	}
	tx.AddUndo(rec)
	tx.AddRedo(RedoRecord{Slot: slot, Kind: DeltaUpdate, Delta: singleColDelta(col, newValue, false)})

	if installed {
		tbl.SetColumn(slot, col, newValue)
		tbl.AtomicWriteVersionPtr(slot, rec)
	}
	return rec
}

func newTestManager(gc bool) *Manager {
	return NewManager(&ManagerOptions{GCEnabled: gc})
}

// recordingLog is a LogManager that appends every submitted commit
// record under a mutex, and fails the owning test if two Submit calls
// ever overlap — the property the commit latch is supposed to enforce.
type recordingLog struct {
	t *testing.T

	mu      sync.Mutex
	entries []CommitRecord

	inflight atomic.Bool
}

func (l *recordingLog) Enabled() bool { return true }

func (l *recordingLog) Submit(_ *TransactionContext, rec CommitRecord, callback func(arg any), arg any) error {
	if !l.inflight.CompareAndSwap(false, true) {
		l.t.Error("Submit called concurrently with another in-flight Submit")
	}
	l.mu.Lock()
	l.entries = append(l.entries, rec)
	l.mu.Unlock()
	l.inflight.Store(false)

	if callback != nil {
		callback(arg)
	}
	return nil
}

func (l *recordingLog) order() []CommitRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CommitRecord(nil), l.entries...)
}

// --- S1: read-only commit ---

func TestReadOnlyCommit(t *testing.T) {
	m := newTestManager(true)

	txn := m.Begin(nil)
	var called bool
	commitTS, err := m.Commit(txn, func(arg any) { called = true }, nil)
	require.NoError(t, err)
	require.Greater(t, commitTS, txn.StartTime)
	require.True(t, called, "commit callback was not invoked")
	require.Equal(t, 0, m.Stats().RunningTransactions)

	drained := m.DrainCompleted()
	require.Len(t, drained, 1, "completed queue depth (gc enabled)")
}

func TestReadOnlyCommitWithoutGC(t *testing.T) {
	m := newTestManager(false)
	txn := m.Begin(nil)
	_, err := m.Commit(txn, nil, nil)
	require.NoError(t, err)
	require.Empty(t, m.DrainCompleted(), "gc disabled: no completed transactions expected")
}

// --- S2: serial updating commits are monotone in the log ---

func TestSerialUpdatingCommitsMonotoneInLog(t *testing.T) {
	log := &recordingLog{t: t}
	m := NewManager(&ManagerOptions{LogManager: log})
	tbl := storage.NewMemTable(1, testLayout())

	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("v0")})
	require.NoError(t, err)

	t1 := m.Begin(nil)
	installUpdate(tbl, t1, slot, 1, []byte("v1"), true)
	commit1, err := m.Commit(t1, nil, nil)
	require.NoError(t, err)

	t2 := m.Begin(nil)
	installUpdate(tbl, t2, slot, 1, []byte("v2"), true)
	commit2, err := m.Commit(t2, nil, nil)
	require.NoError(t, err)

	require.Less(t, commit1, commit2)

	order := log.order()
	require.Len(t, order, 2)
	require.Equal(t, commit1, order[0].CommitTime)
	require.Equal(t, commit2, order[1].CommitTime)
}

// --- S3: concurrent commit serialization ---

func TestConcurrentUpdatingCommitsSerialize(t *testing.T) {
	log := &recordingLog{t: t}
	m := NewManager(&ManagerOptions{LogManager: log})
	tbl := storage.NewMemTable(1, testLayout())

	slotA, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("a0")})
	require.NoError(t, err)
	slotB, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 2}, []byte("b0")})
	require.NoError(t, err)

	t1 := m.Begin(nil)
	t2 := m.Begin(nil)
	installUpdate(tbl, t1, slotA, 1, []byte("a1"), true)
	installUpdate(tbl, t2, slotB, 1, []byte("b1"), true)

	var wg sync.WaitGroup
	commits := make([]Timestamp, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ts, err := m.Commit(t1, nil, nil)
		require.NoError(t, err)
		commits[0] = ts
	}()
	go func() {
		defer wg.Done()
		ts, err := m.Commit(t2, nil, nil)
		require.NoError(t, err)
		commits[1] = ts
	}()
	wg.Wait()

	order := log.order()
	require.Len(t, order, 2)
	require.Less(t, order[0].CommitTime, order[1].CommitTime)

	for _, u := range t1.undo.all() {
		require.Equal(t, TransactionID(commits[0]), u.Timestamp())
	}
	for _, u := range t2.undo.all() {
		require.Equal(t, TransactionID(commits[1]), u.Timestamp())
	}
}

// --- S4: abort reclaims varlens of an uninstalled last update ---

func TestAbortReclaimsUninstalledLastUpdateVarlens(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())

	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("hello")})
	require.NoError(t, err)

	txn := m.Begin(nil)
	headBefore := tbl.AtomicReadVersionPtr(slot)

	installUpdate(tbl, txn, slot, 1, []byte("world"), true)
	installUpdate(tbl, txn, slot, 1, []byte("conflict"), false)

	require.NoError(t, m.Abort(txn))

	v, isNull := tbl.AccessWithNullCheck(slot, 1)
	require.False(t, isNull)
	require.Equal(t, "hello", string(v))
	require.Equal(t, headBefore, tbl.AtomicReadVersionPtr(slot))

	require.Len(t, txn.LoosePtrs, 2)
	require.Equal(t, "world", string(txn.LoosePtrs[0]), "overwritten installed value")
	require.Equal(t, "conflict", string(txn.LoosePtrs[1]), "orphaned uninstalled redo delta")
}

// --- round-trip rollback without a conflict (universal invariant 7) ---

func TestAbortRoundTripSingleUpdate(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())

	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("before")})
	require.NoError(t, err)
	headBefore := tbl.AtomicReadVersionPtr(slot)

	txn := m.Begin(nil)
	installUpdate(tbl, txn, slot, 1, []byte("after"), true)

	require.NoError(t, m.Abort(txn))

	v, isNull := tbl.AccessWithNullCheck(slot, 1)
	require.False(t, isNull)
	require.Equal(t, "before", string(v))
	require.Equal(t, headBefore, tbl.AtomicReadVersionPtr(slot))
	require.Len(t, txn.LoosePtrs, 1)
	require.Equal(t, "after", string(txn.LoosePtrs[0]))
}

// --- round-trip rollback of an uncommitted INSERT and DELETE ---

func TestAbortRollsBackInsert(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())

	txn := m.Begin(nil)
	slot, err := tbl.InsertTx(txn, [][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("new row")})
	require.NoError(t, err)

	v, isNull := tbl.AccessWithNullCheck(slot, 1)
	require.False(t, isNull)
	require.Equal(t, "new row", string(v))

	require.NoError(t, m.Abort(txn))

	// The slot was deallocated by rollback's DeltaInsert branch: reads
	// against it now report NULL, and its varlen payload was queued for
	// reclamation.
	_, isNull = tbl.AccessWithNullCheck(slot, 1)
	require.True(t, isNull)
	require.Len(t, txn.LoosePtrs, 1)
	require.Equal(t, "new row", string(txn.LoosePtrs[0]))
}

func TestAbortRollsBackDelete(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())

	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("still here")})
	require.NoError(t, err)
	headBefore := tbl.AtomicReadVersionPtr(slot)

	txn := m.Begin(nil)
	installed, err := tbl.Delete(txn, slot)
	require.NoError(t, err)
	require.True(t, installed)

	_, isNull := tbl.AccessWithNullCheck(slot, 1)
	require.True(t, isNull, "deleted row should read NULL before rollback")

	require.NoError(t, m.Abort(txn))

	v, isNull := tbl.AccessWithNullCheck(slot, 1)
	require.False(t, isNull)
	require.Equal(t, "still here", string(v))
	require.Equal(t, headBefore, tbl.AtomicReadVersionPtr(slot))
}


// --- S5: oldest watermark across workers ---

func TestOldestTransactionStartTimeAcrossWorkers(t *testing.T) {
	m := newTestManager(false)

	w1 := m.RegisterWorker(1)
	w2 := m.RegisterWorker(2)
	defer m.UnregisterWorker(w1)
	defer m.UnregisterWorker(w2)

	ta := m.Begin(w1)
	tb := m.Begin(w2)
	tc := m.Begin(nil)

	require.Equal(t, ta.StartTime, m.OldestTransactionStartTime())

	_, err := m.Commit(ta, nil, nil)
	require.NoError(t, err)
	require.Equal(t, tb.StartTime, m.OldestTransactionStartTime())

	_, err = m.Commit(tb, nil, nil)
	require.NoError(t, err)
	require.Equal(t, tc.StartTime, m.OldestTransactionStartTime())

	_, err = m.Commit(tc, nil, nil)
	require.NoError(t, err)
}

// --- S6: Begin excluded from a concurrent updating commit's critical section ---

func TestBeginExcludedByConcurrentUpdatingCommit(t *testing.T) {
	m := newTestManager(false)

	m.commitLatch.Lock()

	began := make(chan *TransactionContext, 1)
	go func() { began <- m.Begin(nil) }()

	select {
	case <-began:
		m.commitLatch.Unlock()
		t.Fatal("Begin returned while the commit latch was held exclusively")
	case <-time.After(50 * time.Millisecond):
	}

	m.commitLatch.Unlock()

	select {
	case txn := <-began:
		require.NotNil(t, txn)
	case <-time.After(time.Second):
		t.Fatal("Begin did not complete after the commit latch was released")
	}
}

// --- universal invariants ---

func TestTimestampsStrictlyIncreaseAndAreUnique(t *testing.T) {
	m := newTestManager(false)
	seen := make(map[Timestamp]struct{})
	var last Timestamp

	for i := 0; i < 200; i++ {
		ts := m.NextTimestamp()
		require.Greater(t, ts, last)
		require.NotContains(t, seen, ts)
		seen[ts] = struct{}{}
		last = ts
	}
}

func TestStartTimeLessThanCommitTime(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())
	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, nil})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		txn := m.Begin(nil)
		installUpdate(tbl, txn, slot, 0, []byte{0, 0, 0, 0, 0, 0, 0, byte(i)}, true)
		commitTS, err := m.Commit(txn, nil, nil)
		require.NoError(t, err)
		require.Less(t, txn.StartTime, commitTS)
	}
}

func TestCommittedUndoRecordsCarryCommitTimestamp(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())
	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("x")})
	require.NoError(t, err)

	txn := m.Begin(nil)
	installUpdate(tbl, txn, slot, 1, []byte("y"), true)
	installUpdate(tbl, txn, slot, 1, []byte("z"), true)

	commitTS, err := m.Commit(txn, nil, nil)
	require.NoError(t, err)

	for _, rec := range txn.undo.all() {
		require.Equal(t, TransactionID(commitTS), rec.Timestamp())
	}
	require.Equal(t, TransactionID(commitTS), txn.TxnID())
}

func TestDrainCompletedIsIdempotent(t *testing.T) {
	m := newTestManager(true)
	txn := m.Begin(nil)
	_, err := m.Commit(txn, nil, nil)
	require.NoError(t, err)

	first := m.DrainCompleted()
	require.Len(t, first, 1)
	second := m.DrainCompleted()
	require.Empty(t, second)
}

func TestAbortSetsLogProcessedAndDiscardsRedo(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())
	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("x")})
	require.NoError(t, err)

	txn := m.Begin(nil)
	installUpdate(tbl, txn, slot, 1, []byte("y"), true)

	require.NoError(t, m.Abort(txn))
	require.True(t, txn.LogProcessed)
	_, ok := txn.redo.lastDelta()
	require.False(t, ok, "redo buffer should be discarded after Abort")
}

func TestRollbackRejectsUnownedHead(t *testing.T) {
	m := newTestManager(false)
	tbl := storage.NewMemTable(1, testLayout())
	slot, err := tbl.Insert([][]byte{{0, 0, 0, 0, 0, 0, 0, 1}, []byte("x")})
	require.NoError(t, err)

	txn := m.Begin(nil)
	rec := installUpdate(tbl, txn, slot, 1, []byte("y"), true)

	// Simulate another transaction having since taken the write lock.
	intruder := NewUndoRecord(slot, DeltaUpdate, singleColDelta(1, []byte("y"), false), rec, SpeculativeID(999))
	tbl.AtomicWriteVersionPtr(slot, intruder)

	err = m.Abort(txn)
	require.Error(t, err, "expected a protocol violation when the chain head is no longer owned by this transaction")
}

func TestCommitRejectsAlreadyFinalizedTransaction(t *testing.T) {
	m := newTestManager(false)
	txn := m.Begin(nil)

	_, err := m.Commit(txn, nil, nil)
	require.NoError(t, err)

	_, err = m.Commit(txn, nil, nil)
	require.Error(t, err)
	require.True(t, errors.IsError(err, errors.TransactionRollback))
}

func TestAbortRejectsAlreadyFinalizedTransaction(t *testing.T) {
	m := newTestManager(false)
	txn := m.Begin(nil)

	require.NoError(t, m.Abort(txn))
	err := m.Abort(txn)
	require.Error(t, err)
	require.True(t, errors.IsError(err, errors.TransactionRollback))
}

func TestRegisterUnregisterWorker(t *testing.T) {
	m := newTestManager(false)
	tc := m.RegisterWorker(7)
	require.Equal(t, int64(7), tc.WorkerID())
	m.UnregisterWorker(tc)
	// No transactions ever ran, so the watermark is just the (unadvanced)
	// counter value; the call should complete without touching tc's
	// latch after it has been removed from the workers set.
	_ = m.OldestTransactionStartTime()
}

func TestManagerCloseDrainsCompleted(t *testing.T) {
	m := newTestManager(true)
	txn := m.Begin(nil)
	_, err := m.Commit(txn, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.Empty(t, m.DrainCompleted(), "Close should have drained the completed queue")
}
