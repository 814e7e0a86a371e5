package storage

import "github.com/emberdb/emberdb/internal/txn"

// ColumnDelta is a concrete txn.Delta backed by a fixed set of column
// values: the projection an undo or redo record carries for a single
// update. Used by MemTable.Update and by callers building their own
// deltas against a Table.
type ColumnDelta struct {
	cols   []txn.ColumnID
	values map[txn.ColumnID][]byte
	nulls  map[txn.ColumnID]bool
}

// NewColumnDelta returns an empty delta ready for Set/SetNull calls.
func NewColumnDelta() *ColumnDelta {
	return &ColumnDelta{
		values: make(map[txn.ColumnID][]byte),
		nulls:  make(map[txn.ColumnID]bool),
	}
}

// Set records col's value, clearing any prior NULL marking for it.
func (d *ColumnDelta) Set(col txn.ColumnID, value []byte) *ColumnDelta {
	if _, seen := d.values[col]; !seen {
		if _, sawNull := d.nulls[col]; !sawNull {
			d.cols = append(d.cols, col)
		}
	}
	d.values[col] = value
	d.nulls[col] = false
	return d
}

// SetNull records col as NULL.
func (d *ColumnDelta) SetNull(col txn.ColumnID) *ColumnDelta {
	if _, seen := d.values[col]; !seen {
		if _, sawNull := d.nulls[col]; !sawNull {
			d.cols = append(d.cols, col)
		}
	}
	delete(d.values, col)
	d.nulls[col] = true
	return d
}

// Columns returns the column ids this delta touches.
func (d *ColumnDelta) Columns() []txn.ColumnID {
	return d.cols
}

// Value returns col's stored value and whether it is NULL.
func (d *ColumnDelta) Value(col txn.ColumnID) ([]byte, bool) {
	if d.nulls[col] {
		return nil, true
	}
	return d.values[col], false
}
