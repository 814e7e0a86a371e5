package wal

import (
	"encoding/binary"
	"fmt"
	"time"
)

// LSN represents a Log Sequence Number.
type LSN uint64

// InvalidLSN represents an invalid or uninitialized LSN.
const InvalidLSN LSN = 0

// RecordType represents the type of a WAL record.
type RecordType uint16

const (
	RecordTypeInvalid RecordType = iota
	RecordTypeBeginTxn
	RecordTypeCommitTxn
	RecordTypeAbortTxn
	RecordTypeCheckpoint
)

// String returns a string representation of the record type.
func (rt RecordType) String() string {
	switch rt {
	case RecordTypeBeginTxn:
		return "BEGIN_TXN"
	case RecordTypeCommitTxn:
		return "COMMIT_TXN"
	case RecordTypeAbortTxn:
		return "ABORT_TXN"
	case RecordTypeCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", rt)
	}
}

// LogRecord represents a single WAL record.
type LogRecord struct {
	LSN       LSN
	Type      RecordType
	TxnID     uint64
	PrevLSN   LSN // Previous LSN for this transaction
	Timestamp time.Time
	Data      []byte
}

// Size returns the size of the log record in bytes.
func (r *LogRecord) Size() int {
	// LSN(8) + Type(2) + TxnID(8) + PrevLSN(8) + Timestamp(8) + Length(4) + Data(len) + Checksum(4)
	return 8 + 2 + 8 + 8 + 8 + 4 + len(r.Data) + 4
}

// TransactionRecord is the payload carried by BEGIN/COMMIT/ABORT
// records. StartTS and CommitTS are the transaction manager's own
// logical Timestamp values (txn.TransactionContext.StartTime and the
// commit timestamp assigned in Manager.logCommit), not wall-clock
// time — LogRecord.Timestamp already carries wall-clock time for the
// header, so the payload only needs to carry the domain values a
// recovery pass would actually key its redo/undo decisions on.
type TransactionRecord struct {
	TxnID      uint64
	StartTS    uint64
	CommitTS   uint64
	IsReadOnly bool
}

// Marshal serializes the transaction record.
func (r *TransactionRecord) Marshal() []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint64(buf[0:8], r.TxnID)
	binary.BigEndian.PutUint64(buf[8:16], r.StartTS)
	binary.BigEndian.PutUint64(buf[16:24], r.CommitTS)
	if r.IsReadOnly {
		buf[24] = 1
	}
	return buf
}

// Unmarshal deserializes the transaction record.
func (r *TransactionRecord) Unmarshal(data []byte) error {
	if len(data) < 25 {
		return fmt.Errorf("transaction record too short: %d bytes", len(data))
	}
	r.TxnID = binary.BigEndian.Uint64(data[0:8])
	r.StartTS = binary.BigEndian.Uint64(data[8:16])
	r.CommitTS = binary.BigEndian.Uint64(data[16:24])
	r.IsReadOnly = data[24] != 0
	return nil
}

// CheckpointRecord is the payload carried by a CHECKPOINT record: the
// LSN a recovery pass can treat as a durable low-water mark, and the
// set of transaction ids still running at the moment the checkpoint
// was taken (a recovery pass must still redo/undo those from before
// the checkpoint's LSN, since they were not yet committed when it was
// written).
type CheckpointRecord struct {
	LSN        LSN
	ActiveTxns []uint64
}

// Marshal serializes the checkpoint record.
func (r *CheckpointRecord) Marshal() []byte {
	buf := make([]byte, 8+4+8*len(r.ActiveTxns))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.LSN))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.ActiveTxns))) //nolint:gosec // bounded by running transaction count
	pos := 12
	for _, id := range r.ActiveTxns {
		binary.BigEndian.PutUint64(buf[pos:pos+8], id)
		pos += 8
	}
	return buf
}

// Unmarshal deserializes the checkpoint record.
func (r *CheckpointRecord) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("checkpoint record too short: %d bytes", len(data))
	}
	r.LSN = LSN(binary.BigEndian.Uint64(data[0:8]))
	count := binary.BigEndian.Uint32(data[8:12])
	if len(data) < 12+int(count)*8 {
		return fmt.Errorf("checkpoint record truncated: want %d active txn ids, have %d bytes", count, len(data)-12)
	}
	r.ActiveTxns = make([]uint64, count)
	pos := 12
	for i := range r.ActiveTxns {
		r.ActiveTxns[i] = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}
	return nil
}
