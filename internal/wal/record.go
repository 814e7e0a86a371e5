package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/emberdb/emberdb/internal/errors"
	"github.com/emberdb/emberdb/internal/util/timeutil"
)

const (
	// RecordHeaderSize is the fixed size of a log record header
	// LSN(8) + Type(2) + TxnID(8) + PrevLSN(8) + Timestamp(8) + Length(4) = 38 bytes
	RecordHeaderSize = 38

	// ChecksumSize is the size of the checksum field
	ChecksumSize = 4
)

// SerializeRecord writes a log record to the writer
func SerializeRecord(w io.Writer, record *LogRecord) error {
	// Calculate total size
	dataLen := len(record.Data)
	totalSize := RecordHeaderSize + dataLen + ChecksumSize

	// Create buffer for entire record
	buf := make([]byte, totalSize)
	// Write header
	pos := 0
	binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(record.LSN))
	pos += 8
	binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(record.Type))
	pos += 2
	binary.BigEndian.PutUint64(buf[pos:pos+8], record.TxnID)
	pos += 8
	binary.BigEndian.PutUint64(buf[pos:pos+8], uint64(record.PrevLSN))
	pos += 8
	timeutil.WriteTimestampToBuf(buf, pos, record.Timestamp) //nolint:errcheck // Buffer size is pre-calculated
	pos += 8
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(dataLen))
	pos += 4

	// Write data
	if dataLen > 0 {
		copy(buf[pos:pos+dataLen], record.Data)
		pos += dataLen
	}

	// Calculate and write checksum (excluding checksum field itself)
	checksum := crc32.ChecksumIEEE(buf[:pos])
	binary.BigEndian.PutUint32(buf[pos:pos+4], checksum)

	// Write to output
	_, err := w.Write(buf)
	return err
}

// DeserializeRecord reads a log record from the reader
func DeserializeRecord(r io.Reader) (*LogRecord, error) {
	// Read header
	headerBuf := make([]byte, RecordHeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, errors.IOErrorf("failed to read record header: %v", err)
	}

	// Parse header
	pos := 0
	lsn := LSN(binary.BigEndian.Uint64(headerBuf[pos : pos+8]))
	pos += 8
	recordType := RecordType(binary.BigEndian.Uint16(headerBuf[pos : pos+2]))
	pos += 2
	txnID := binary.BigEndian.Uint64(headerBuf[pos : pos+8])
	pos += 8
	prevLSN := LSN(binary.BigEndian.Uint64(headerBuf[pos : pos+8]))
	pos += 8
	timestamp, _ := timeutil.ReadTimestampFromBuf(headerBuf, pos) // Error impossible with pre-validated buffer
	pos += 8
	dataLen := binary.BigEndian.Uint32(headerBuf[pos : pos+4])

	// Read data
	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.IOErrorf("failed to read record data: %v", err)
		}
	}

	// Read checksum
	checksumBuf := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(r, checksumBuf); err != nil {
		return nil, errors.IOErrorf("failed to read checksum: %v", err)
	}
	expectedChecksum := binary.BigEndian.Uint32(checksumBuf)

	// Verify checksum
	fullBuf := make([]byte, RecordHeaderSize+len(data))
	copy(fullBuf[:RecordHeaderSize], headerBuf)
	if len(data) > 0 {
		copy(fullBuf[RecordHeaderSize:], data)
	}
	actualChecksum := crc32.ChecksumIEEE(fullBuf)

	if actualChecksum != expectedChecksum {
		return nil, errors.WALCorruptionError(
			fmt.Sprintf("record at LSN %d: checksum mismatch: expected %x, got %x", lsn, expectedChecksum, actualChecksum))
	}

	return &LogRecord{
		LSN:       lsn,
		Type:      recordType,
		TxnID:     txnID,
		PrevLSN:   prevLSN,
		Timestamp: timestamp,
		Data:      data,
	}, nil
}

// CommitInfo carries the transaction-manager-domain values a COMMIT_TXN
// record's payload embeds. Adapter.Submit builds one from the
// txn.CommitRecord and TransactionContext it receives; Manager itself
// only cares about TxnID for LSN bookkeeping.
type CommitInfo struct {
	TxnID      uint64
	StartTS    uint64
	CommitTS   uint64
	IsReadOnly bool
}

// NewCommitTxnRecord creates a new COMMIT_TXN log record
func NewCommitTxnRecord(lsn LSN, info CommitInfo, prevLSN LSN) *LogRecord {
	txnRec := &TransactionRecord{
		TxnID:      info.TxnID,
		StartTS:    info.StartTS,
		CommitTS:   info.CommitTS,
		IsReadOnly: info.IsReadOnly,
	}

	return &LogRecord{
		LSN:       lsn,
		Type:      RecordTypeCommitTxn,
		TxnID:     info.TxnID,
		PrevLSN:   prevLSN,
		Timestamp: timeutil.Now(),
		Data:      txnRec.Marshal(),
	}
}

// NewCheckpointRecord creates a new CHECKPOINT log record. It carries
// no TxnID of its own (0), since a checkpoint is not scoped to any one
// transaction.
func NewCheckpointRecord(lsn LSN, rec CheckpointRecord) *LogRecord {
	rec.LSN = lsn
	return &LogRecord{
		LSN:       lsn,
		Type:      RecordTypeCheckpoint,
		TxnID:     0,
		PrevLSN:   InvalidLSN,
		Timestamp: timeutil.Now(),
		Data:      rec.Marshal(),
	}
}

