// Package txn implements the transaction manager for the MVCC storage
// engine: timestamp issuance, the running-transaction registry, commit
// and abort coordination against version chains, and the GC handoff
// queue. The physical tuple store, write-ahead log, and garbage
// collector are external collaborators, consumed here only through the
// Table, BlockLayout, SegmentPool, and LogManager interfaces.
package txn

import "sync/atomic"

// Timestamp is a monotonically increasing, globally unique logical
// clock value. The same counter issues both start and commit times.
type Timestamp uint64

// speculativeBit marks a TransactionID as "in progress", distinguishing
// it from any committed timestamp by ordering: every speculative id is
// numerically greater than any value Timestamp can hold on its own.
const speculativeBit = uint64(1) << 63

// TransactionID is the atomic identity field carried inside a
// TransactionContext. While the transaction runs it holds its start
// time with the high bit set (see SpeculativeID); at commit it is
// atomically rewritten to the commit timestamp.
type TransactionID uint64

// SpeculativeID returns the in-progress marker for a start time: the
// start time with the high bit explicitly set. This is the unsigned
// equivalent of the source's signed-overflow `start_time + 2^63`
// computation, chosen for defined behavior in Go (see DESIGN.md, Open
// Question 1).
func SpeculativeID(start Timestamp) TransactionID {
	return TransactionID(uint64(start) | speculativeBit)
}

// IsSpeculative reports whether id still carries the in-progress marker.
func (id TransactionID) IsSpeculative() bool {
	return uint64(id)&speculativeBit != 0
}

// atomicTxnID is a TransactionID field safe for concurrent load/store,
// so readers racing a commit always observe either the speculative id
// or the final commit timestamp, never a torn value.
type atomicTxnID struct {
	v atomic.Uint64
}

func (a *atomicTxnID) store(id TransactionID) { a.v.Store(uint64(id)) }
func (a *atomicTxnID) load() TransactionID    { return TransactionID(a.v.Load()) }

// DeltaKind identifies the kind of modification an UndoRecord reverses.
type DeltaKind int

const (
	// DeltaUpdate reverses a column update.
	DeltaUpdate DeltaKind = iota
	// DeltaInsert reverses an insert (rollback deallocates the slot).
	DeltaInsert
	// DeltaDelete reverses a delete (rollback re-exposes the tuple).
	DeltaDelete
)

// String renders the delta kind for logging and error messages.
func (k DeltaKind) String() string {
	switch k {
	case DeltaUpdate:
		return "UPDATE"
	case DeltaInsert:
		return "INSERT"
	case DeltaDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// UndoRecord is a before-image entry in a transaction's undo list. It
// refers to a tuple slot in a Table, carries the delta needed to
// reverse the modification, and links to the next-older undo record in
// the slot's version chain.
//
// Table is nil until the record is installed as the new chain head;
// that nil sentinel is what GCLastUpdateOnAbort inspects to tell
// "installed" from "lost a write-write race before installation".
type UndoRecord struct {
	Slot  TupleSlot
	Kind  DeltaKind
	Delta Delta
	Next  *UndoRecord
	Table Table

	// ts is the speculative id at installation time, atomically flipped
	// to the commit timestamp when the owning transaction commits. Reads
	// race with that flip by design; both sides use atomic ops so a
	// concurrent reader always observes one or the other, never a torn
	// value.
	ts atomicTxnID
}

// Timestamp returns the record's current timestamp field: a
// speculative id while the owning transaction runs, the commit
// timestamp afterward.
func (u *UndoRecord) Timestamp() TransactionID {
	return u.ts.load()
}

// SetTimestamp atomically stores id into the record's timestamp field.
func (u *UndoRecord) SetTimestamp(id TransactionID) {
	u.ts.store(id)
}

// NewUndoRecord constructs an undo record with its timestamp
// initialized to the owning transaction's current (speculative) id.
func NewUndoRecord(slot TupleSlot, kind DeltaKind, delta Delta, next *UndoRecord, owner TransactionID) *UndoRecord {
	r := &UndoRecord{Slot: slot, Kind: kind, Delta: delta, Next: next}
	r.ts.store(owner)
	return r
}

// RedoRecord is an append-only log-replay entry in a transaction's redo
// buffer. A CommitRecord is appended as the last redo entry at commit.
type RedoRecord struct {
	Slot  TupleSlot
	Kind  DeltaKind
	Delta Delta
}

// CommitRecord is the terminal redo entry appended at commit time; it
// is what the LogManager scans for and durably writes before invoking
// the transaction's commit callback.
type CommitRecord struct {
	StartTime  Timestamp
	CommitTime Timestamp
	IsReadOnly bool
}

// redoBuffer is the append-only sequence of RedoRecord plus the
// terminal CommitRecord, finalizable in "publish" or "discard" mode.
// When a segment has been allocated from a SegmentPool it is filled
// first; records only spill onto the plain slice once the segment is
// exhausted or no pool was configured.
type redoBuffer struct {
	segment *RedoSegment
	segLen  int

	records []RedoRecord
	commit  *CommitRecord
}

func (b *redoBuffer) appendRecord(r RedoRecord) {
	if b.segment != nil && b.segLen < len(b.segment.Records) {
		b.segment.Records[b.segLen] = r
		b.segLen++
		return
	}
	b.records = append(b.records, r)
}

func (b *redoBuffer) lastDelta() (RedoRecord, bool) {
	if len(b.records) > 0 {
		return b.records[len(b.records)-1], true
	}
	if b.segLen > 0 {
		return b.segment.Records[b.segLen-1], true
	}
	return RedoRecord{}, false
}

// TransactionContext holds all per-transaction state: start time, the
// atomic id field, the undo and redo buffers, loose pointers awaiting
// GC reclamation, and an optional non-owning back-pointer to the
// ThreadContext that registered it.
type TransactionContext struct {
	StartTime Timestamp
	// txnID is read/written atomically: readers racing with commit must
	// always observe either the speculative id or the final commit ts.
	txnID atomicTxnID

	undo undoBuffer
	redo redoBuffer

	// LoosePtrs holds variable-length payloads reclaimed by abort or by
	// GCLastUpdateOnAbort; the GC frees these once the watermark clears
	// the transaction.
	LoosePtrs []LoosePtr

	// LogProcessed is observed by the log manager: true means no further
	// records will arrive for this transaction.
	LogProcessed bool

	// ThreadContext is the non-owning worker this transaction was begun
	// on, or nil if it was begun without one (global running set).
	ThreadContext *ThreadContext
}

// LoosePtr is a variable-length payload pointer whose lifetime extends
// past its owning undo/redo record and must be reclaimed by the GC.
type LoosePtr []byte

// TxnID returns the transaction's current id (speculative while
// running, the commit timestamp after Commit returns).
func (t *TransactionContext) TxnID() TransactionID {
	return t.txnID.load()
}

// StartedAt returns the transaction's start time.
func (t *TransactionContext) StartedAt() Timestamp {
	return t.StartTime
}

// undoBuffer is the append-only, newest-first-iterable list of undo
// records produced by this transaction. Single-writer (the owning
// transaction) until commit or abort. When a segment has been
// allocated from a SegmentPool its slots are filled first, the same
// spill-to-slice policy as redoBuffer.
type undoBuffer struct {
	segment *UndoSegment
	segLen  int

	records []*UndoRecord
}

func (b *undoBuffer) append(r *UndoRecord) {
	if b.segment != nil && b.segLen < len(b.segment.Records) {
		b.segment.Records[b.segLen] = r
		b.segLen++
		return
	}
	b.records = append(b.records, r)
}

func (b *undoBuffer) isEmpty() bool {
	return len(b.records) == 0 && b.segLen == 0
}

// all returns every undo record in insertion order, segment slots
// first, then any that spilled onto the plain slice.
func (b *undoBuffer) all() []*UndoRecord {
	out := make([]*UndoRecord, 0, b.segLen+len(b.records))
	if b.segment != nil {
		out = append(out, b.segment.Records[:b.segLen]...)
	}
	out = append(out, b.records...)
	return out
}

// newestFirst returns the undo records in reverse insertion order, the
// order Abort must walk them in.
func (b *undoBuffer) newestFirst() []*UndoRecord {
	all := b.all()
	out := make([]*UndoRecord, len(all))
	for i, r := range all {
		out[len(all)-1-i] = r
	}
	return out
}

func (b *undoBuffer) last() *UndoRecord {
	if len(b.records) > 0 {
		return b.records[len(b.records)-1]
	}
	if b.segLen > 0 {
		return b.segment.Records[b.segLen-1]
	}
	return nil
}

// AddUndo appends a new undo record to the transaction's undo buffer.
// Called by the storage layer as part of installing (or attempting to
// install) a modification.
func (t *TransactionContext) AddUndo(r *UndoRecord) {
	t.undo.append(r)
}

// AddRedo appends a redo entry describing a change for log replay.
func (t *TransactionContext) AddRedo(r RedoRecord) {
	t.redo.appendRecord(r)
}
