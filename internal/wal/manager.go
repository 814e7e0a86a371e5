package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/emberdb/emberdb/internal/errors"
)

// Config holds configuration for the WAL manager
type Config struct {
	// Directory where WAL files are stored
	Directory string
	
	// Size of the in-memory buffer
	BufferSize int
	
	// Maximum size of a single WAL segment file
	SegmentSize int64
	
	// Whether to sync on every commit
	SyncOnCommit bool
}

// DefaultConfig returns a default WAL configuration
func DefaultConfig() *Config {
	return &Config{
		Directory:    "wal",
		BufferSize:   DefaultBufferSize,
		SegmentSize:  16 * 1024 * 1024, // 16MB segments
		SyncOnCommit: true,
	}
}

// Manager manages the write-ahead log
type Manager struct {
	config *Config
	
	// Current LSN - use atomic operations
	currentLSN uint64
	
	// In-memory buffer
	buffer *Buffer
	
	// Current segment file
	currentSegment     *os.File
	currentSegmentNum  uint64
	currentSegmentSize int64
	
	// Synchronization
	mu          sync.Mutex
	flushMu     sync.Mutex // Separate mutex for flushing
	closeCh     chan struct{}
	closeWg     sync.WaitGroup
	
	// Transaction tracking
	txnMu      sync.Mutex
	txnLastLSN map[uint64]LSN // Maps transaction ID to its last LSN
}

// NewManager creates a new WAL manager
func NewManager(config *Config) (*Manager, error) {
	// Create WAL directory if it doesn't exist
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, errors.FileIOError("create directory", config.Directory, err)
	}
	
	m := &Manager{
		config:     config,
		currentLSN: 0,
		buffer:     NewBuffer(config.BufferSize),
		closeCh:    make(chan struct{}),
		txnLastLSN: make(map[uint64]LSN),
	}
	
	// Find the latest segment and LSN
	if err := m.recoverState(); err != nil {
		return nil, fmt.Errorf("failed to recover WAL state: %w", err)
	}
	
	// Open or create current segment
	if err := m.openSegment(); err != nil {
		return nil, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	
	return m, nil
}

// GetNextLSN returns the next available LSN
func (m *Manager) GetNextLSN() LSN {
	return LSN(atomic.AddUint64(&m.currentLSN, 1))
}

// GetCurrentLSN returns the current LSN without incrementing
func (m *Manager) GetCurrentLSN() LSN {
	return LSN(atomic.LoadUint64(&m.currentLSN))
}

// AppendRecord appends a log record to the WAL
func (m *Manager) AppendRecord(record *LogRecord) error {
	// Track transaction's last LSN
	if record.TxnID != 0 {
		m.txnMu.Lock()
		m.txnLastLSN[record.TxnID] = record.LSN
		m.txnMu.Unlock()
	}
	
	// Try to append to buffer
	m.mu.Lock()
	err := m.buffer.Append(record)
	needsFlush := err != nil || m.shouldFlush(record)
	m.mu.Unlock()
	
	if err != nil {
		// Buffer is full, flush and retry
		if err := m.Flush(); err != nil {
			return fmt.Errorf("failed to flush buffer: %w", err)
		}
		
		// Retry append
		m.mu.Lock()
		err = m.buffer.Append(record)
		m.mu.Unlock()
		
		if err != nil {
			return fmt.Errorf("failed to append record after flush: %w", err)
		}
	}
	
	// Flush if needed (e.g., on commit)
	if needsFlush {
		if err := m.Flush(); err != nil {
			return fmt.Errorf("failed to flush on commit: %w", err)
		}
	}
	
	return nil
}

// LogCommitTxn logs the commit of a transaction, embedding info's
// start/commit timestamps and read-only flag into the record payload
// so a recovery pass can distinguish a read-only commit (nothing to
// redo) from an updating one without cross-referencing another log.
func (m *Manager) LogCommitTxn(info CommitInfo) (LSN, error) {
	lsn := m.GetNextLSN()

	// Get previous LSN for this transaction
	m.txnMu.Lock()
	prevLSN := m.txnLastLSN[info.TxnID]
	m.txnMu.Unlock()

	record := NewCommitTxnRecord(lsn, info, prevLSN)

	if err := m.AppendRecord(record); err != nil {
		return InvalidLSN, err
	}

	// Clean up after AppendRecord, which records the commit's own LSN:
	// no further records arrive for a committed transaction.
	m.txnMu.Lock()
	delete(m.txnLastLSN, info.TxnID)
	m.txnMu.Unlock()

	return lsn, nil
}

// activeTxnIDs snapshots the transaction ids Manager still expects
// further records from, for Checkpointer to embed in a checkpoint
// record's ActiveTxns list.
func (m *Manager) activeTxnIDs() []uint64 {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()
	ids := make([]uint64, 0, len(m.txnLastLSN))
	for id := range m.txnLastLSN {
		ids = append(ids, id)
	}
	return ids
}

// LogCheckpoint writes a CHECKPOINT record naming every transaction
// still active at the moment it was taken, then forces a Flush so the
// checkpoint's LSN is durable before Checkpointer reports it as the
// new low-water mark.
func (m *Manager) LogCheckpoint() (LSN, error) {
	lsn := m.GetNextLSN()
	record := NewCheckpointRecord(lsn, CheckpointRecord{ActiveTxns: m.activeTxnIDs()})

	if err := m.AppendRecord(record); err != nil {
		return InvalidLSN, err
	}
	if err := m.Flush(); err != nil {
		return InvalidLSN, err
	}
	return lsn, nil
}

// Flush writes buffered records to disk
func (m *Manager) Flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	
	// Get data from buffer
	m.mu.Lock()
	if m.buffer.IsEmpty() {
		m.mu.Unlock()
		return nil
	}
	
	data, _ := m.buffer.GetData()
	m.buffer.Reset()
	m.mu.Unlock()
	
	// Write to segment file
	if err := m.writeToSegment(data); err != nil {
		return err
	}

	// Sync if configured
	if m.config.SyncOnCommit {
		if err := m.currentSegment.Sync(); err != nil {
			return errors.IOErrorf("failed to sync segment %s: %v", m.segmentPath(m.currentSegmentNum), err)
		}
	}
	
	return nil
}

// Close closes the WAL manager
func (m *Manager) Close() error {
	close(m.closeCh)
	m.closeWg.Wait()
	
	// Final flush
	if err := m.Flush(); err != nil {
		return errors.IOErrorf("failed to flush on close: %v", err)
	}
	
	// Close current segment
	if m.currentSegment != nil {
		if err := m.currentSegment.Close(); err != nil {
			return errors.FileIOError("close", m.segmentPath(m.currentSegmentNum), err)
		}
	}
	
	return nil
}

// shouldFlush determines if the buffer should be flushed
func (m *Manager) shouldFlush(record *LogRecord) bool {
	// Always flush on commit if configured
	if m.config.SyncOnCommit && record.Type == RecordTypeCommitTxn {
		return true
	}
	
	// Flush once less than 20% of the buffer remains free.
	if m.buffer.AvailableSpace() < m.buffer.Capacity()/5 {
		return true
	}
	
	return false
}

// recoverState recovers the WAL state from existing files
func (m *Manager) recoverState() error {
	// Find all segment files
	pattern := filepath.Join(m.config.Directory, "*.wal")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.IOErrorf("failed to list WAL files in %s: %v", m.config.Directory, err)
	}
	
	if len(files) == 0 {
		// No existing WAL files
		m.currentSegmentNum = 1
		atomic.StoreUint64(&m.currentLSN, 0)
		return nil
	}
	
	// Find the latest segment
	var maxSegNum uint64
	for _, file := range files {
		base := filepath.Base(file)
		var segNum uint64
		if _, err := fmt.Sscanf(base, "%016x.wal", &segNum); err == nil {
			if segNum > maxSegNum {
				maxSegNum = segNum
			}
		}
	}
	
	m.currentSegmentNum = maxSegNum
	
	// Scan the latest segment to find the last LSN
	segmentPath := m.segmentPath(maxSegNum)
	if err := m.scanSegmentForLastLSN(segmentPath); err != nil {
		return errors.FileIOError("scan", segmentPath, err)
	}
	
	return nil
}

// scanSegmentForLastLSN scans a segment file to find the last valid LSN
func (m *Manager) scanSegmentForLastLSN(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.FileIOError("open", path, err)
	}
	defer file.Close()
	
	var lastLSN LSN
	for {
		record, err := DeserializeRecord(file)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Partial record at end of file is expected
			break
		}
		
		if record.LSN > lastLSN {
			lastLSN = record.LSN
		}
	}
	
	atomic.StoreUint64(&m.currentLSN, uint64(lastLSN))
	
	// Get file size
	stat, err := file.Stat()
	if err != nil {
		return errors.FileIOError("stat", path, err)
	}
	m.currentSegmentSize = stat.Size()
	
	return nil
}

// openSegment opens or creates the current segment file
func (m *Manager) openSegment() error {
	segmentPath := m.segmentPath(m.currentSegmentNum)
	
	// Open with append mode
	file, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.FileIOError("open", segmentPath, err)
	}
	
	m.currentSegment = file
	
	// Get current size
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.FileIOError("stat", segmentPath, err)
	}
	m.currentSegmentSize = stat.Size()
	
	return nil
}

// writeToSegment writes data to the current segment
func (m *Manager) writeToSegment(data []byte) error {
	// Check if we need to rotate segment
	if m.currentSegmentSize+int64(len(data)) > m.config.SegmentSize {
		if err := m.rotateSegment(); err != nil {
			return errors.IOErrorf("failed to rotate segment: %v", err)
		}
	}
	
	// Write data
	n, err := m.currentSegment.Write(data)
	if err != nil {
		return errors.DiskSpaceError("write to WAL segment")
	}
	
	m.currentSegmentSize += int64(n)
	
	return nil
}

// rotateSegment creates a new segment file
func (m *Manager) rotateSegment() error {
	// Close current segment
	if m.currentSegment != nil {
		if err := m.currentSegment.Close(); err != nil {
			return errors.FileIOError("close", m.segmentPath(m.currentSegmentNum), err)
		}
	}
	
	// Increment segment number
	m.currentSegmentNum++
	m.currentSegmentSize = 0
	
	// Open new segment
	return m.openSegment()
}

// segmentPath returns the path for a segment file
func (m *Manager) segmentPath(segNum uint64) string {
	return filepath.Join(m.config.Directory, fmt.Sprintf("%016x.wal", segNum))
}