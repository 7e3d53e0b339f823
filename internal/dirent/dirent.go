// Package dirent implements component C4: 8.3 short names, Long File Name
// (LFN) slot encoding/decoding, and directory entry scanning.
//
// Grounded on github.com/dargueta/disko's file_systems/fat/dirent.go
// (RawDirent / Dirent, attribute constants, deleted-entry name repair for the
// 0xE5/0x05 first-byte alias) and original_source/fat_common.c's
// gen_basis_name, lfn_checksum, and build_long_entry for the exact
// byte-for-byte short-name and LFN-slot algorithms.
package dirent

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/kvnallsn/skfs"
)

// RawSize is the on-disk size of one directory entry slot (8.3 or LFN).
const RawSize = 32

// First-byte markers, per spec.md §3 "Directory entry".
const (
	MarkerFree    = 0x00
	MarkerDeleted = 0xE5
	// AliasDeletedAsE5 is the byte a filename's first character is rewritten
	// to on disk when that character is literally 0xE5, so that readers do
	// not mistake a live entry for a tombstone.
	AliasDeletedAsE5 = 0x05
)

// Raw is the bytewise layout of one 32-byte 8.3 directory entry.
type Raw struct {
	Name        [11]byte
	Attr        uint8
	NTReserved  uint8
	CreateTimeTenth uint8
	CreateTime  uint16
	CreateDate  uint16
	AccessDate  uint16
	ClusterHi   uint16 // high half of (hi<<16)|lo; Skinny28 file entries hold a version-table slot index there, not a cluster
	ModTime     uint16
	ModDate     uint16
	ClusterLo   uint16 // low half of (hi<<16)|lo; see ClusterHi
	FileSize    uint32
}

// DecodeRaw parses one 32-byte slot.
func DecodeRaw(b []byte) Raw {
	var r Raw
	copy(r.Name[:], b[0:11])
	r.Attr = b[11]
	r.NTReserved = b[12]
	r.CreateTimeTenth = b[13]
	r.CreateTime = binary.LittleEndian.Uint16(b[14:16])
	r.CreateDate = binary.LittleEndian.Uint16(b[16:18])
	r.AccessDate = binary.LittleEndian.Uint16(b[18:20])
	r.ClusterHi = binary.LittleEndian.Uint16(b[20:22])
	r.ModTime = binary.LittleEndian.Uint16(b[22:24])
	r.ModDate = binary.LittleEndian.Uint16(b[24:26])
	r.ClusterLo = binary.LittleEndian.Uint16(b[26:28])
	r.FileSize = binary.LittleEndian.Uint32(b[28:32])
	return r
}

// Encode serializes r back to its 32-byte on-disk form.
func (r Raw) Encode() []byte {
	b := make([]byte, RawSize)
	copy(b[0:11], r.Name[:])
	b[11] = r.Attr
	b[12] = r.NTReserved
	b[13] = r.CreateTimeTenth
	binary.LittleEndian.PutUint16(b[14:16], r.CreateTime)
	binary.LittleEndian.PutUint16(b[16:18], r.CreateDate)
	binary.LittleEndian.PutUint16(b[18:20], r.AccessDate)
	binary.LittleEndian.PutUint16(b[20:22], r.ClusterHi)
	binary.LittleEndian.PutUint16(b[22:24], r.ModTime)
	binary.LittleEndian.PutUint16(b[24:26], r.ModDate)
	binary.LittleEndian.PutUint16(b[26:28], r.ClusterLo)
	binary.LittleEndian.PutUint32(b[28:32], r.FileSize)
	return b
}

// ClusterOrSlot returns the combined (hi<<16)|lo 32-bit value: a cluster
// number on a conventional FAT volume, or a version-table slot index on a
// Skinny28 volume (spec.md §3 Skinny28's "Directory entry reuse").
func (r Raw) ClusterOrSlot() uint32 {
	return uint32(r.ClusterHi)<<16 | uint32(r.ClusterLo)
}

// SetClusterOrSlot writes back the combined 32-bit value.
func (r *Raw) SetClusterOrSlot(v uint32) {
	r.ClusterHi = uint16(v >> 16)
	r.ClusterLo = uint16(v)
}

// LongRaw is the bytewise layout of one 32-byte LFN continuation slot.
type LongRaw struct {
	Order    uint8
	Name1    [5]uint16
	Attr     uint8 // always AttrLongName
	Type     uint8
	Checksum uint8
	Name2    [6]uint16
	Zero     uint16
	Name3    [2]uint16
}

// OrderLast is OR'd into the first physical (highest-ordinal) LFN slot's
// Order byte, per spec.md §3.
const OrderLast = 0x40

// DecodeLongRaw parses one 32-byte LFN slot.
func DecodeLongRaw(b []byte) LongRaw {
	var r LongRaw
	r.Order = b[0]
	for i := 0; i < 5; i++ {
		r.Name1[i] = binary.LittleEndian.Uint16(b[1+2*i : 3+2*i])
	}
	r.Attr = b[11]
	r.Type = b[12]
	r.Checksum = b[13]
	for i := 0; i < 6; i++ {
		r.Name2[i] = binary.LittleEndian.Uint16(b[14+2*i : 16+2*i])
	}
	r.Zero = binary.LittleEndian.Uint16(b[26:28])
	for i := 0; i < 2; i++ {
		r.Name3[i] = binary.LittleEndian.Uint16(b[28+2*i : 30+2*i])
	}
	return r
}

// Encode serializes r back to its 32-byte on-disk form.
func (r LongRaw) Encode() []byte {
	b := make([]byte, RawSize)
	b[0] = r.Order
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(b[1+2*i:3+2*i], r.Name1[i])
	}
	b[11] = r.Attr
	b[12] = r.Type
	b[13] = r.Checksum
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(b[14+2*i:16+2*i], r.Name2[i])
	}
	binary.LittleEndian.PutUint16(b[26:28], r.Zero)
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(b[28+2*i:30+2*i], r.Name3[i])
	}
	return b
}

// basisSubstitutes lists the punctuation characters gen_basis_name replaces
// with '_' when deriving the 8.3 alias, per original_source/fat_common.c.
const basisSubstitutes = "+,;=[]"

// GenerateBasisName derives an 8.3 "basis" short name from a long name,
// following original_source/fat_common.c's gen_basis_name: skip leading
// spaces and dots, uppercase, substitute '_' for a fixed punctuation set,
// split on the last dot for the extension, and truncate/pad each half to its
// fixed width.
func GenerateBasisName(long string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	trimmed := strings.TrimLeft(long, " .")
	base := trimmed
	ext := ""
	if dot := strings.LastIndex(trimmed, "."); dot > 0 {
		base = trimmed[:dot]
		ext = trimmed[dot+1:]
	}

	writeField := func(dst []byte, src string) {
		i := 0
		for _, r := range src {
			if i >= len(dst) {
				break
			}
			c := byte(r)
			if r > 127 {
				c = '_'
			}
			if strings.IndexByte(basisSubstitutes, c) >= 0 {
				c = '_'
			}
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			if c == ' ' {
				continue
			}
			dst[i] = c
			i++
		}
	}

	writeField(out[0:8], base)
	writeField(out[8:11], ext)
	return out
}

// LFNChecksum computes the 8.3-alias checksum stored in every LFN slot of a
// chain, following original_source/fat_common.c's lfn_checksum: a rotate-right
// accumulation over all 11 bytes of the short name.
func LFNChecksum(shortName [11]byte) uint8 {
	var sum uint8
	for _, c := range shortName {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// BuildLongEntries splits a long name into the LFN continuation slots needed
// to store it, highest ordinal first (physical disk order), each stamped
// with checksum, following original_source/fat_common.c's build_long_entry:
// 13 UTF-16 code units per slot (5+6+2), 0x0000 terminator immediately after
// the name's last unit if it fits, 0xFFFF padding beyond that.
func BuildLongEntries(long string, shortName [11]byte) []LongRaw {
	units := utf16.Encode([]rune(long))
	checksum := LFNChecksum(shortName)

	numSlots := (len(units) + 12) / 13
	if numSlots == 0 {
		numSlots = 1
	}

	slots := make([]LongRaw, numSlots)
	for slotIdx := 0; slotIdx < numSlots; slotIdx++ {
		start := slotIdx * 13
		var buf [13]uint16
		terminated := false
		for i := 0; i < 13; i++ {
			srcIdx := start + i
			switch {
			case srcIdx < len(units):
				buf[i] = units[srcIdx]
			case srcIdx == len(units) && !terminated:
				buf[i] = 0x0000
				terminated = true
			default:
				buf[i] = 0xFFFF
			}
		}

		r := LongRaw{
			Order:    uint8(slotIdx + 1),
			Attr:     skfs.AttrLongName,
			Checksum: checksum,
		}
		copy(r.Name1[:], buf[0:5])
		copy(r.Name2[:], buf[5:11])
		copy(r.Name3[:], buf[11:13])
		slots[slotIdx] = r
	}

	slots[numSlots-1].Order |= OrderLast

	// Physical order is highest ordinal first.
	for i, j := 0, len(slots)-1; i < j; i, j = i+1, j-1 {
		slots[i], slots[j] = slots[j], slots[i]
	}
	return slots
}

// DecodeLongName reassembles the long name from a run of LFN slots already
// in physical (highest-ordinal-first) disk order.
func DecodeLongName(slots []LongRaw) string {
	var units []uint16
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		for _, u := range s.Name1 {
			if u == 0x0000 || u == 0xFFFF {
				goto done
			}
			units = append(units, u)
		}
		for _, u := range s.Name2 {
			if u == 0x0000 || u == 0xFFFF {
				goto done
			}
			units = append(units, u)
		}
		for _, u := range s.Name3 {
			if u == 0x0000 || u == 0xFFFF {
				goto done
			}
			units = append(units, u)
		}
	}
done:
	return string(utf16.Decode(units))
}

// Entry is a fully decoded directory entry: the short-name slot plus its
// resolved long name (if any preceding LFN run decoded successfully).
type Entry struct {
	LongName  string
	ShortName [11]byte
	Attr      uint8
	ClusterOrSlot uint32
	Size      uint32
	ModTime   time.Time
	Deleted   bool
}

// RepairDeletedFirstByte undoes the 0xE5-alias substitution FAT applies when
// a filename genuinely starts with byte 0xE5, following
// github.com/dargueta/disko's file_systems/fat/dirent.go NewDirentFromRaw.
func RepairDeletedFirstByte(name [11]byte) [11]byte {
	if name[0] == AliasDeletedAsE5 {
		name[0] = MarkerDeleted
	}
	return name
}

// DotName and DotDotName are the fixed 11-byte short names of the "." and
// ".." pseudo-entries every subdirectory's first cluster carries.
// GenerateBasisName cannot produce either, since it trims leading dots
// entirely before deriving a basis name.
var DotName = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
var DotDotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// DotEntries builds the "." and ".." entries for a new directory whose own
// first cluster is selfCluster, naming parentCluster (0 for the FAT16 fixed
// root) as the entry ".." resolves to, per spec.md §4.4.
func DotEntries(selfCluster, parentCluster uint32, attr uint8) (dot, dotdot Raw) {
	dot = Raw{Name: DotName, Attr: attr}
	dot.SetClusterOrSlot(selfCluster)
	dotdot = Raw{Name: DotDotName, Attr: attr}
	dotdot.SetClusterOrSlot(parentCluster)
	return dot, dotdot
}

// IsDirectory reports whether attr marks a directory entry.
func IsDirectory(attr uint8) bool { return attr&skfs.AttrDirectory != 0 }

// IsLongNameSlot reports whether attr marks this 32-byte slot as an LFN
// continuation rather than a short-name entry.
func IsLongNameSlot(attr uint8) bool { return attr&0x3F == skfs.AttrLongName }
