package storage

import (
	"encoding/binary"
	"fmt"
)

// SlottedPage is the physical block backing one MemTable block: each
// TupleSlot the table hands out is (block ID, slot number) into one of
// these, with the slot number stable for the row's lifetime so version
// chains never have to chase a moved tuple. Layout:
// [PageHeader][Slot0][Slot1]...[SlotN][FreeSpace][RowN]...[Row1][Row0]
// Rows grow from the end backward, the slot directory grows from the
// header forward; MemTable's row encoding (see table.go's row.encode)
// is what actually lands in each row's bytes.
//
// Every row a table ever writes into one block has exactly the same
// encoded length: layout.rowSize() (table.go's MemBlockLayout reserves
// a fixed width per column, varlen columns included). That invariant
// means a slot vacated by DeleteRow can always be handed straight back
// out by a later AddRow with no relocation and no compaction pass —
// freeSlots tracks exactly those vacated, reusable slots.
type SlottedPage struct {
	*Page

	// footprint[slotNum] is the row length reserved for that slot when
	// it was first created by AddRow, kept even after the slot is
	// deallocated so a later AddRow can tell whether it exactly fits.
	footprint []uint16

	// freeSlots holds deallocated slot numbers available for AddRow to
	// reuse, most-recently-freed last.
	freeSlots []uint16
}

// Slot is one entry in a page's slot directory.
type Slot struct {
	Offset uint16 // Offset from start of page
	Length uint16 // Length of the row (0 means deleted)
}

const SlotSize = 4 // Size of a slot entry in bytes

// NewSlottedPage creates a new slotted page.
func NewSlottedPage(id PageID) *SlottedPage {
	p := NewPage(id, PageTypeData)
	// Rows grow backward from the end of the page, so the row area
	// starts out empty at PageSize.
	p.Header.FreeSpacePtr = PageSize
	return &SlottedPage{
		Page: p,
	}
}

// AddRow appends a row and returns the slot number MemTable should
// fold into the row's TupleSlot. A deallocated slot whose reserved
// footprint exactly matches len(data) is reused in place before any
// new slot directory entry is allocated.
func (sp *SlottedPage) AddRow(data []byte) (uint16, error) {
	if len(data) > 65535 {
		return 0, fmt.Errorf("row too large: %d bytes (max 65535)", len(data))
	}
	rowLen := uint16(len(data)) //nolint:gosec // bounds checked above

	if slotNum, ok := sp.popFreeSlot(rowLen); ok {
		slotOffset := PageHeaderSize + slotNum*SlotSize
		offset := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize:])
		copy(sp.Data[offset-PageHeaderSize:], data)
		binary.LittleEndian.PutUint16(sp.Data[slotOffset-PageHeaderSize+2:], rowLen)
		sp.Header.FreeSpace -= rowLen
		return slotNum, nil
	}

	requiredSpace := rowLen + SlotSize
	if sp.Header.FreeSpace < requiredSpace {
		return 0, fmt.Errorf("insufficient space in block: need %d bytes, have %d",
			requiredSpace, sp.Header.FreeSpace)
	}

	slotNum := sp.Header.ItemCount
	slotEnd := PageHeaderSize + (slotNum+1)*SlotSize
	rowOffset := sp.Header.FreeSpacePtr - rowLen

	if slotEnd > rowOffset {
		return 0, fmt.Errorf("block is full: slot directory and row area would overlap (slot end: %d, row start: %d)",
			slotEnd, rowOffset)
	}

	slotOffset := PageHeaderSize + slotNum*SlotSize
	binary.LittleEndian.PutUint16(sp.Data[slotOffset-PageHeaderSize:], rowOffset)
	binary.LittleEndian.PutUint16(sp.Data[slotOffset-PageHeaderSize+2:], rowLen)

	copy(sp.Data[rowOffset-PageHeaderSize:], data)

	sp.Header.ItemCount++
	sp.Header.FreeSpace -= requiredSpace
	sp.Header.FreeSpacePtr = rowOffset
	sp.footprint = append(sp.footprint, rowLen)

	return slotNum, nil
}

// popFreeSlot removes and returns a deallocated slot whose reserved
// footprint equals rowLen, searching most-recently-freed first. It
// reports ok=false if no free slot fits.
func (sp *SlottedPage) popFreeSlot(rowLen uint16) (slotNum uint16, ok bool) {
	for i := len(sp.freeSlots) - 1; i >= 0; i-- {
		candidate := sp.freeSlots[i]
		if sp.footprint[candidate] != rowLen {
			continue
		}
		sp.freeSlots = append(sp.freeSlots[:i], sp.freeSlots[i+1:]...)
		return candidate, true
	}
	return 0, false
}

// GetRow retrieves a row's bytes by slot number, as MemTable.decodeRow
// expects to receive them.
func (sp *SlottedPage) GetRow(slotNum uint16) ([]byte, error) {
	if slotNum >= sp.Header.ItemCount {
		return nil, fmt.Errorf("invalid slot number: %d (max: %d)", slotNum, sp.Header.ItemCount-1)
	}

	slotOffset := PageHeaderSize + slotNum*SlotSize
	offset := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize:])
	length := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize+2:])

	if length == 0 {
		return nil, fmt.Errorf("row at slot %d has been deallocated", slotNum)
	}

	data := make([]byte, length)
	copy(data, sp.Data[offset-PageHeaderSize:offset-PageHeaderSize+length])

	return data, nil
}

// UpdateRow overwrites a row in place. MemTable's fixed-width row
// layout (table.go's MemBlockLayout) guarantees every update re-encodes
// to exactly the reserved footprint of the row it replaces, so unlike
// a general-purpose slotted page there is no shrink/grow arithmetic to
// perform: a length mismatch means a caller violated that invariant.
func (sp *SlottedPage) UpdateRow(slotNum uint16, data []byte) error {
	if slotNum >= sp.Header.ItemCount {
		return fmt.Errorf("invalid slot number: %d", slotNum)
	}

	slotOffset := PageHeaderSize + slotNum*SlotSize
	offset := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize:])
	oldLength := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize+2:])

	if oldLength == 0 {
		return fmt.Errorf("cannot update deallocated row at slot %d", slotNum)
	}
	if len(data) != int(oldLength) {
		return fmt.Errorf("row footprint changed on update: old=%d, new=%d (rows must keep a fixed width)",
			oldLength, len(data))
	}

	copy(sp.Data[offset-PageHeaderSize:], data)
	return nil
}

// DeleteRow marks a row's slot deallocated and pushes it onto the
// page's free-slot list for AddRow to reuse. MemTable.Deallocate calls
// this on DeltaInsert rollback; it is distinct from MemTable.Delete's
// logical, NULL-bit tombstone, which keeps the slot allocated so the
// row can be un-deleted on rollback.
func (sp *SlottedPage) DeleteRow(slotNum uint16) error {
	if slotNum >= sp.Header.ItemCount {
		return fmt.Errorf("invalid slot number: %d", slotNum)
	}

	slotOffset := PageHeaderSize + slotNum*SlotSize
	length := binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize+2:])
	if length == 0 {
		return nil
	}

	binary.LittleEndian.PutUint16(sp.Data[slotOffset-PageHeaderSize+2:], 0)
	sp.Header.FreeSpace += length
	sp.freeSlots = append(sp.freeSlots, slotNum)

	return nil
}

// Slots returns the slot directory, mainly for tests that need to
// assert on a block's physical layout without decoding row bytes.
func (sp *SlottedPage) Slots() []Slot {
	slots := make([]Slot, sp.Header.ItemCount)
	for i := uint16(0); i < sp.Header.ItemCount; i++ {
		slotOffset := PageHeaderSize + i*SlotSize
		slots[i].Offset = binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize:])
		slots[i].Length = binary.LittleEndian.Uint16(sp.Data[slotOffset-PageHeaderSize+2:])
	}
	return slots
}
