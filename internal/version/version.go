// Package version implements component C7: the Skinny28 per-file version
// table, a fixed-size array of 4-cluster-head records indexed by the slot
// number stored in a Skinny28 directory entry's cluster field.
//
// Grounded on original_source/skinny28.h's skinny_vers_t and
// original_source/skinny28.c's read_skinny_table/write_skinny_table (FAT
// get/put with read-modify-write masking the low 28 bits),
// find_open_vers_table (scan for a zero record), get_most_recent_cluster,
// insert_revision, and revert_to_revision.
//
// revert_to_revision in the source has two defects, both fixed here rather
// than reproduced:
//   - case 3 (revert to the oldest kept revision) assigns vcurr = v3, then
//     sets v3 = 1 and immediately v3 = 0 without ever clearing v1 or v2, so
//     the two most recent revisions are neither promoted nor discarded.
//   - case 2 has no break, falling through into case 1's logic and applying
//     it a second time.
package version

import (
	"encoding/binary"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
)

// RecordSize is the on-disk size, in bytes, of one version record.
const RecordSize = 16

// Record holds the four retained cluster-chain heads for one file, newest
// first. A zero value (all four fields zero) marks an unused slot.
type Record struct {
	Vcurr uint32
	V1    uint32
	V2    uint32
	V3    uint32
}

// IsEmpty reports whether r is an unused slot.
func (r Record) IsEmpty() bool {
	return r.Vcurr == 0 && r.V1 == 0 && r.V2 == 0 && r.V3 == 0
}

// At returns the cluster head for revision n: 0 is the current data, 1-3 are
// successively older retained revisions. An n outside [0,3] is a caller bug.
func (r Record) At(n int) uint32 {
	switch n {
	case 0:
		return r.Vcurr
	case 1:
		return r.V1
	case 2:
		return r.V2
	case 3:
		return r.V3
	default:
		return 0
	}
}

// Table is the on-disk version table: a cluster-resident array of Records
// addressed by slot index.
type Table struct {
	dev            *blockio.Device
	tableOffset    int64 // absolute byte offset of the table's first record
	recordCapacity int
}

// New creates a Table view starting at the given absolute byte offset
// (normally the start of the version-table cluster named by the BPB's
// repurposed root_entry_count field, per spec.md Skinny28 §3), sized to hold
// capacity records.
func New(dev *blockio.Device, tableOffset int64, capacity int) *Table {
	return &Table{dev: dev, tableOffset: tableOffset, recordCapacity: capacity}
}

func (t *Table) recordOffset(slot int) int64 {
	return t.tableOffset + int64(slot)*RecordSize
}

// Get reads the record at slot.
func (t *Table) Get(slot int) (Record, error) {
	if slot < 0 || slot >= t.recordCapacity {
		return Record{}, skfs.ErrBadRevision(slot)
	}
	buf := make([]byte, RecordSize)
	if err := t.dev.ReadAt(buf, t.recordOffset(slot)); err != nil {
		return Record{}, err
	}
	return Record{
		Vcurr: binary.LittleEndian.Uint32(buf[0:4]),
		V1:    binary.LittleEndian.Uint32(buf[4:8]),
		V2:    binary.LittleEndian.Uint32(buf[8:12]),
		V3:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Put writes rec back to slot.
func (t *Table) Put(slot int, rec Record) error {
	if slot < 0 || slot >= t.recordCapacity {
		return skfs.ErrBadRevision(slot)
	}
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], rec.Vcurr)
	binary.LittleEndian.PutUint32(buf[4:8], rec.V1)
	binary.LittleEndian.PutUint32(buf[8:12], rec.V2)
	binary.LittleEndian.PutUint32(buf[12:16], rec.V3)
	_, err := t.dev.WriteAt(buf, t.recordOffset(slot))
	return err
}

// FindOpenSlot scans the table for the first empty record, following
// original_source/skinny28.c's find_open_vers_table.
func (t *Table) FindOpenSlot() (int, error) {
	for slot := 0; slot < t.recordCapacity; slot++ {
		rec, err := t.Get(slot)
		if err != nil {
			return 0, err
		}
		if rec.IsEmpty() {
			return slot, nil
		}
	}
	return 0, skfs.ErrDirectoryFull("version table")
}

// MostRecentCluster returns the current (vcurr) cluster head for slot,
// following original_source/skinny28.c's get_most_recent_cluster.
func (t *Table) MostRecentCluster(slot int) (uint32, error) {
	rec, err := t.Get(slot)
	if err != nil {
		return 0, err
	}
	return rec.Vcurr, nil
}

// InsertRevision pushes newCluster as the current revision for slot, shifting
// the previous vcurr/v1/v2 down one step and discarding the oldest (v3),
// following original_source/skinny28.c's insert_revision.
func (t *Table) InsertRevision(slot int, newCluster uint32) error {
	rec, err := t.Get(slot)
	if err != nil {
		return err
	}
	rec.V3 = rec.V2
	rec.V2 = rec.V1
	rec.V1 = rec.Vcurr
	rec.Vcurr = newCluster
	return t.Put(slot, rec)
}

// RevertTo rewrites slot so that revision n (1, 2, or 3) becomes the current
// revision, shifting the revisions older than n up behind it and clearing the
// fields they vacate, following original_source/skinny28.c's
// revert_to_revision with its case-2 fallthrough and case-3 corruption fixed:
// reverting to revision N makes the record read {Vcurr: old N, V1..: the
// revisions older than N, zero-padded}, and every revision newer than N is
// discarded rather than retained or miscounted.
func (t *Table) RevertTo(slot int, n int) error {
	if n < 1 || n > 3 {
		return skfs.ErrBadRevision(n)
	}
	rec, err := t.Get(slot)
	if err != nil {
		return err
	}

	switch n {
	case 1:
		rec = Record{Vcurr: rec.V1, V1: rec.V2, V2: rec.V3, V3: 0}
	case 2:
		rec = Record{Vcurr: rec.V2, V1: rec.V3, V2: 0, V3: 0}
	case 3:
		rec = Record{Vcurr: rec.V3, V1: 0, V2: 0, V3: 0}
	}

	return t.Put(slot, rec)
}

// Delete clears a slot, releasing it for reuse.
func (t *Table) Delete(slot int) error {
	return t.Put(slot, Record{})
}
