// Package fat implements component C3: reading and writing 32-bit FAT
// cluster entries, and allocating free clusters.
//
// Grounded on original_source/fat_common.c's read_fat_table/write_fat_table
// (sector = reserved_sector_count + (cluster*4)/bytes_per_sector, entry
// offset = (cluster*4) % bytes_per_sector, read-modify-write preserving the
// high nibble) and original_source/fat_common.c's find_free_cluster (forward
// linear scan from a hint). The free-cluster bitmap cache is new: it mirrors
// github.com/dargueta/disko's drivers/common/allocatormap.go Allocator, which
// keeps a github.com/boljen/go-bitmap alongside the block/cluster stream so
// repeated allocation doesn't have to re-scan the disk from cluster 2 every
// time.
package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
)

// EOC is the lowest value considered end-of-chain, per spec.md §3: "the high
// 4 bits are preserved on writes ... ≥ 0x0FFFFFF7 bad/EOC".
const EOC = 0x0FFFFFF7

// EOCMark is the sentinel written to terminate a chain, per spec.md §4.5.
const EOCMark = 0x0FFFFFFF

const entryMask = 0x0FFFFFFF

// Table is an in-memory view over one or more on-disk FAT copies.
type Table struct {
	dev             *blockio.Device
	reservedSectors uint32
	bytesPerSector  uint32
	fatSizeSectors  uint32
	numCopies       uint8
	nClusters       uint32

	free      bitmap.Bitmap
	freeCount uint32
	lastAlloc uint32
}

// New creates a Table bound to the FAT region(s) of dev. nClusters is the
// total addressable cluster count (spec.md §3 "Derived layout"); clusters are
// numbered starting at 2, so entries 0 and 1 are reserved media/EOC markers
// and are never handed out by Allocate.
func New(dev *blockio.Device, reservedSectors, bytesPerSector, fatSizeSectors uint32, numCopies uint8, nClusters uint32) *Table {
	return &Table{
		dev:             dev,
		reservedSectors: reservedSectors,
		bytesPerSector:  bytesPerSector,
		fatSizeSectors:  fatSizeSectors,
		numCopies:       numCopies,
		nClusters:       nClusters,
		free:            bitmap.New(int(nClusters + 2)),
	}
}

func (t *Table) checkCluster(c uint32) error {
	if c < 2 || c >= t.nClusters+2 {
		return skfs.ErrBadCluster(c)
	}
	return nil
}

func (t *Table) entryOffset(copyIndex uint8, cluster uint32) int64 {
	fatStartSector := t.reservedSectors + uint32(copyIndex)*t.fatSizeSectors
	byteOffsetInFAT := cluster * 4
	return int64(fatStartSector)*int64(t.bytesPerSector) + int64(byteOffsetInFAT)
}

// Get reads the low-28-bit value of a FAT entry from copy #1.
func (t *Table) Get(cluster uint32) (uint32, error) {
	if err := t.checkCluster(cluster); err != nil {
		return 0, err
	}
	return t.rawGet(0, cluster)
}

func (t *Table) rawGet(copyIndex uint8, cluster uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := t.dev.ReadAt(buf, t.entryOffset(copyIndex, cluster)); err != nil {
		return 0, err
	}
	return le32(buf) & entryMask, nil
}

// Put writes value's low 28 bits to every FAT copy, preserving each copy's
// high nibble (spec.md §4.3: "performs read-modify-write preserving the high
// nibble"; §9 flags that the source only ever mirrors to copy #1 in its hot
// path, which this implementation corrects — every copy is written here).
func (t *Table) Put(cluster uint32, value uint32) error {
	if err := t.checkCluster(cluster); err != nil {
		return err
	}

	wasFree := t.free.Get(int(cluster))

	for copyIndex := uint8(0); copyIndex < t.numCopies; copyIndex++ {
		buf := make([]byte, 4)
		offset := t.entryOffset(copyIndex, cluster)
		if err := t.dev.ReadAt(buf, offset); err != nil {
			return err
		}
		existing := le32(buf)
		merged := (existing & ^uint32(entryMask)) | (value & entryMask)
		putLE32(buf, merged)
		if _, err := t.dev.WriteAt(buf, offset); err != nil {
			return err
		}
	}

	nowFree := value&entryMask == 0
	t.free.Set(int(cluster), nowFree)
	switch {
	case wasFree && !nowFree:
		t.freeCount--
	case !wasFree && nowFree:
		t.freeCount++
	}
	return nil
}

// RescanFree recomputes the free-cluster bitmap and the last-allocation hint
// by scanning the whole FAT, per spec.md §4.6 ("Scan the entire FAT once to
// recompute num_free_clusters ... and to set last_alloc to the highest
// observed non-free cluster index"). It returns the free-cluster count.
func (t *Table) RescanFree() (uint32, error) {
	free := uint32(0)
	lastAlloc := uint32(0)

	for c := uint32(2); c < t.nClusters+2; c++ {
		v, err := t.rawGet(0, c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			t.free.Set(int(c), true)
			free++
		} else {
			t.free.Set(int(c), false)
			lastAlloc = c
		}
	}

	t.lastAlloc = lastAlloc
	t.freeCount = free
	return free, nil
}

// FreeCount returns the number of free clusters tracked incrementally by Put
// since the last RescanFree, the value persisted via the FSInfo codec
// (internal/bootrec.WriteFSInfo) at Teardown.
func (t *Table) FreeCount() uint32 { return t.freeCount }

// LastAlloc returns the most recently allocated cluster number, the other
// FSInfo counter.
func (t *Table) LastAlloc() uint32 { return t.lastAlloc }

// Allocate scans forward from hint+1, wrapping at the top of the cluster
// range, and returns the first cluster whose entry is free, marking it
// in-use (value EOCMark) before returning. Per spec.md §4.3, it fails with
// ErrOutOfSpace once the scan has covered every cluster without success.
func (t *Table) Allocate(hint uint32) (uint32, error) {
	if hint < 1 {
		hint = 1
	}

	start := hint + 1
	if start < 2 {
		start = 2
	}

	for i := uint32(0); i < t.nClusters; i++ {
		c := 2 + (start-2+i)%t.nClusters
		if t.free.Get(int(c)) || t.isFreeOnDiskFallback(c) {
			if err := t.Put(c, EOCMark); err != nil {
				return 0, err
			}
			t.lastAlloc = c
			return c, nil
		}
	}

	return 0, skfs.ErrOutOfSpace()
}

// isFreeOnDiskFallback covers clusters never touched by RescanFree (e.g. a
// freshly-created Table whose bitmap starts all-false/"allocated" by
// default); it re-derives freedom from the on-disk entry directly so
// Allocate works correctly even before the first RescanFree.
func (t *Table) isFreeOnDiskFallback(c uint32) bool {
	v, err := t.rawGet(0, c)
	if err != nil {
		return false
	}
	return v == 0
}

// Free releases a single cluster, setting its entry to 0 in every copy.
func (t *Table) Free(cluster uint32) error {
	return t.Put(cluster, 0)
}

// VerifyMirrors checks that every FAT copy is byte-identical to copy #1,
// per spec.md §8 property 5. It returns one error for each divergent copy of
// each cluster, not just the first.
func (t *Table) VerifyMirrors() []error {
	var errs []error
	for c := uint32(2); c < t.nClusters+2; c++ {
		want, err := t.rawGet(0, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for copyIndex := uint8(1); copyIndex < t.numCopies; copyIndex++ {
			got, err := t.rawGet(copyIndex, c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if got != want {
				errs = append(errs, skfs.NewDriverErrorWithMessage(
					0, "FAT copy mismatch at cluster"))
			}
		}
	}
	return errs
}

// IsEndOfChain reports whether v is an end-of-chain / bad-cluster sentinel.
func IsEndOfChain(v uint32) bool { return v >= EOC }

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
