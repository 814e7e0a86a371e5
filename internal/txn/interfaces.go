package txn

// TupleSlot identifies a physical row slot. It is opaque to the
// manager: ownership of its fields belongs to the Table implementation.
type TupleSlot struct {
	TableID int64
	Block   uint32
	Offset  uint16
}

// ColumnID identifies a column within a BlockLayout.
type ColumnID int

// Delta is the per-column projection carried by an undo or redo
// record: the set of columns touched plus an accessor for each one's
// before/after value.
type Delta interface {
	// Columns returns the column ids this delta touches.
	Columns() []ColumnID
	// Value returns the stored value for col, and whether it is NULL.
	Value(col ColumnID) (value []byte, isNull bool)
}

// BlockLayout describes the physical shape of a table's blocks: which
// columns are variable-length and how many columns exist.
type BlockLayout interface {
	IsVarlen(col ColumnID) bool
	NumColumns() int
}

// Table is the tuple access strategy the manager drives during commit
// and abort. Implementations are responsible for the actual storage of
// row data and version-chain heads; the manager only ever reads or
// writes a chain head atomically and never inspects row bytes itself
// except through AccessWithNullCheck.
type Table interface {
	// AtomicReadVersionPtr returns the current head of the version chain
	// for slot.
	AtomicReadVersionPtr(slot TupleSlot) *UndoRecord
	// AtomicWriteVersionPtr installs rec as the new head of the version
	// chain for slot. No compare-and-swap is required by callers that
	// already hold the slot's write lock (the chain head itself).
	AtomicWriteVersionPtr(slot TupleSlot, rec *UndoRecord)
	// BlockLayout returns the layout governing slot's table.
	BlockLayout() BlockLayout
	// AccessWithNullCheck returns the current column value for slot, or
	// (nil, true) if the column is NULL.
	AccessWithNullCheck(slot TupleSlot, col ColumnID) ([]byte, bool)
	// SetColumn writes value into slot's column, clearing the null bit.
	SetColumn(slot TupleSlot, col ColumnID, value []byte)
	// SetNull marks slot's column as NULL.
	SetNull(slot TupleSlot, col ColumnID)
	// SetNotNull clears the NULL bit without changing the stored value.
	SetNotNull(slot TupleSlot, col ColumnID)
	// Deallocate frees slot's physical storage. Called on rollback of an
	// INSERT, after its varlen columns have been reclaimed.
	Deallocate(slot TupleSlot)
}

// UndoSegment is a chunk of undo-record storage handed out by a
// SegmentPool. The manager treats it as an opaque allocation unit; the
// pool implementation decides chunk size and reuse policy.
type UndoSegment struct {
	Records []*UndoRecord
}

// RedoSegment is a chunk of redo-record storage handed out by a
// SegmentPool.
type RedoSegment struct {
	Records []RedoRecord
}

// SegmentPool is the bump-pointer chunk allocator backing undo and
// redo buffers. The manager holds a non-owning reference to it.
type SegmentPool interface {
	AllocateUndoSegment() (*UndoSegment, error)
	AllocateRedoSegment() (*RedoSegment, error)
}

// LogManager is the write-ahead log sink. A nil LogManager means
// logging is disabled: LogCommit invokes the commit callback
// synchronously instead of waiting for a durable write.
type LogManager interface {
	// Enabled reports whether this log manager actually persists
	// records, or is a no-op sink.
	Enabled() bool
	// Submit hands a finalized commit record to the log manager, which
	// is responsible for durably writing it and then invoking callback
	// with arg. The Manager sets txn.LogProcessed to true once Submit
	// returns without error.
	Submit(txn *TransactionContext, rec CommitRecord, callback func(arg any), arg any) error
}
