// Package txnbuf implements a bump-pointer segment pool backing the
// undo and redo buffers of internal/txn, grounded on the donor WAL
// package's in-memory buffer (internal/wal.Buffer): fixed-size chunks
// handed out without per-record allocation, reused once a segment is
// released.
package txnbuf

import (
	"fmt"
	"sync"

	"github.com/emberdb/emberdb/internal/errors"
	"github.com/emberdb/emberdb/internal/txn"
)

// DefaultSegmentRecords is the number of record slots in each segment
// handed out by Pool.
const DefaultSegmentRecords = 64

// Config configures a Pool.
type Config struct {
	// SegmentRecords is the slot count per segment. Defaults to
	// DefaultSegmentRecords when zero.
	SegmentRecords int
	// MaxSegments bounds total outstanding segments across both undo and
	// redo allocation; zero means unbounded.
	MaxSegments int
}

// Pool is a bump-pointer allocator for txn.UndoSegment/txn.RedoSegment
// chunks. Released segments are kept on a free list and reused instead
// of returned to the garbage collector, the same pattern the donor
// WAL buffer uses for its backing byte slice.
type Pool struct {
	mu             sync.Mutex
	segmentRecords int
	maxSegments    int
	outstanding    int

	freeUndo []*txn.UndoSegment
	freeRedo []*txn.RedoSegment
}

// NewPool constructs a Pool. cfg may be nil to take defaults.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = &Config{}
	}
	records := cfg.SegmentRecords
	if records <= 0 {
		records = DefaultSegmentRecords
	}
	return &Pool{
		segmentRecords: records,
		maxSegments:    cfg.MaxSegments,
	}
}

// AllocateUndoSegment returns a free undo segment, reusing one from the
// free list if available, otherwise allocating a fresh backing array.
func (p *Pool) AllocateUndoSegment() (*txn.UndoSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freeUndo); n > 0 {
		seg := p.freeUndo[n-1]
		p.freeUndo = p.freeUndo[:n-1]
		for i := range seg.Records {
			seg.Records[i] = nil
		}
		return seg, nil
	}

	if p.maxSegments > 0 && p.outstanding >= p.maxSegments {
		return nil, errors.OutOfMemoryError(fmt.Sprintf("undo segment pool (max %d segments)", p.maxSegments))
	}
	p.outstanding++
	return &txn.UndoSegment{Records: make([]*txn.UndoRecord, p.segmentRecords)}, nil
}

// AllocateRedoSegment returns a free redo segment, reusing one from the
// free list if available, otherwise allocating a fresh backing array.
func (p *Pool) AllocateRedoSegment() (*txn.RedoSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freeRedo); n > 0 {
		seg := p.freeRedo[n-1]
		p.freeRedo = p.freeRedo[:n-1]
		return seg, nil
	}

	if p.maxSegments > 0 && p.outstanding >= p.maxSegments {
		return nil, errors.OutOfMemoryError(fmt.Sprintf("redo segment pool (max %d segments)", p.maxSegments))
	}
	p.outstanding++
	return &txn.RedoSegment{Records: make([]txn.RedoRecord, p.segmentRecords)}, nil
}

// ReleaseUndoSegment returns seg to the free list for reuse. Callers
// (typically the GC, after a transaction's undo records are no longer
// needed) must not retain references to seg's Records slice afterward.
func (p *Pool) ReleaseUndoSegment(seg *txn.UndoSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeUndo = append(p.freeUndo, seg)
}

// ReleaseRedoSegment returns seg to the free list for reuse.
func (p *Pool) ReleaseRedoSegment(seg *txn.RedoSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeRedo = append(p.freeRedo, seg)
}

// Stats reports outstanding and free segment counts, useful for the
// demo CLI and tests.
type Stats struct {
	Outstanding   int
	FreeUndo      int
	FreeRedo      int
	SegmentLength int
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Outstanding:   p.outstanding,
		FreeUndo:      len(p.freeUndo),
		FreeRedo:      len(p.freeRedo),
		SegmentLength: p.segmentRecords,
	}
}
