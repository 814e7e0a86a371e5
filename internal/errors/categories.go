package errors

// Category-specific error constructors for the transaction manager and
// its storage/WAL collaborators. The donor's equivalent file also
// covers parser, planner, executor, catalog, and connection-auth
// errors; none of those layers exist in this module, so those
// constructors are not carried over. Categories with no genuine caller
// in this module (page-not-found lookups, lock timeouts, deadlock
// detection — this manager only ever detects write-write conflict
// through a CAS, never blocks) are dropped rather than kept unwired.

// Transaction errors

// SerializationError reports a write-write conflict a caller chose to
// surface as an error rather than retry silently: table.Update and
// table.Delete report a write-write conflict by returning
// installed=false, and it is up to the caller (cmd/txnbench, in this
// module) to decide whether that is worth raising.
func SerializationError(details string) *Error {
	return New(SerializationFailure, "could not serialize access due to concurrent update").
		WithDetail(details).
		WithHint("The transaction might succeed if retried.")
}

// RollbackProtocolViolationError reports that Manager.rollback found a
// version chain head that the aborting transaction does not own —
// either a bug in how records were linked, or a second rollback of an
// already-reversed record.
func RollbackProtocolViolationError(detail string) *Error {
	return New(ProtocolViolation, "rollback attempted on a version chain head not owned by the aborting transaction").
		WithDetail(detail)
}

// WAL errors

// WALCorruptionError reports a checksum mismatch while reading a log
// record back off disk.
func WALCorruptionError(details string) *Error {
	return Newf(DataCorrupted, "WAL corruption detected").
		WithDetail(details).
		WithHint("Recovery from an earlier segment may be required.")
}

// FileIOError reports a failed filesystem operation against a WAL
// segment file (open, stat, close, mkdir).
func FileIOError(operation, filename string, err error) *Error {
	return IOErrorf("could not %s file \"%s\": %v", operation, filename, err)
}

// DiskSpaceError reports a failed write to a WAL segment, the most
// common real-world cause of which is a full disk.
func DiskSpaceError(operation string) *Error {
	return Newf(DiskFull, "could not %s: no space left on device", operation)
}

// CheckpointFailedError reports a failed periodic checkpoint. A failed
// checkpoint is not fatal to the WAL — it just means recovery on the
// next start scans further back. Checkpointer.Checkpoint returns it to
// its caller; the periodic checkpoint loop only logs it.
func CheckpointFailedError(reason string) *Error {
	return Newf(IOError, "checkpoint failed").
		WithDetail(reason)
}
