// Package bootrec implements component C2: the boot sector (BPB, extended
// BPB) and FSInfo codec.
//
// Grounded on github.com/dargueta/disko's file_systems/fat/common.go
// (RawFATBootSectorWithBPB / FATBootSector, DetermineFATVersion) for the
// struct layout and the FAT16/32 classification rule, and on
// original_source/fat_common.h + original_source/mkfs.c for the extended-BPB
// field layout and the FSInfo byte offset (1000, hard-coded — see
// original_source/skinny28.c's update_fsinfo, which lseeks to 1000 directly).
package bootrec

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
)

// BPBSize is the size, in bytes, of the common BIOS Parameter Block.
const BPBSize = 90

// FSInfoOffset is the fixed byte offset of the FSInfo counter pair, per
// spec.md §4.2: "FSInfo counters live at byte offset 1000 of the volume
// (fixed ... part of the compatibility contract of the formatter)".
const FSInfoOffset = 1000

// BackupBootSectorIndex is the sector index (not byte offset) of the backup
// boot sector, per spec.md §6.
const BackupBootSectorIndex = 6

// BPB holds the decoded common BIOS Parameter Block fields.
type BPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	MediaType         uint8
	TableSize16       uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// ExtendedBPB32 holds the FAT32-specific tail of the BPB.
type ExtendedBPB32 struct {
	TableSize32      uint32
	ExtFlags         uint16
	FATVersion       uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	DriveNumber      uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FATTypeLabel     [8]byte
}

// ExtendedBPB16 holds the FAT16-specific tail of the BPB.
type ExtendedBPB16 struct {
	DriveNumber   uint8
	BootSignature uint8
	VolumeID      uint32
	VolumeLabel   [11]byte
	FATTypeLabel  [8]byte
}

// BootSector is the fully decoded boot sector plus derived geometry, in the
// spirit of dargueta's FATBootSector (raw fields embedded, precomputed
// fields alongside).
type BootSector struct {
	BPB
	Ext32 *ExtendedBPB32 // non-nil iff FATVersion == 32
	Ext16 *ExtendedBPB16 // non-nil iff FATVersion == 16

	RootDirSectors   uint32
	TotalFATSectors  uint32
	DataStartSector  uint32
	TotalClusters    uint32
	BytesPerCluster  uint32
	FATVersion       int // 16 or 32
	RootCluster      uint32
	FATSizeInSectors uint32
}

// DetermineFATVersion classifies a volume as FAT16 or FAT32 from its cluster
// count, per spec.md §2: "< 65525 ⇒ FAT16, else FAT32/Skinny28". FAT12 is not
// produced by this module, and no FAT12 classification exists: any cluster
// count below 65525, including one in the FAT12 range, is reported as FAT16.
func DetermineFATVersion(totalClusters uint32) int {
	if totalClusters < 65525 {
		return 16
	}
	return 32
}

// rootDirSectors computes the correct root-directory sector count, per
// spec.md §9: "Intended value is ((root_entry_count*32)+(bytes_per_sector-1))
// / bytes_per_sector" — NOT the source's "(bytes_per_sector-1)/bytes_per_sector"
// (which is always 0 regardless of root_entry_count, a documented defect in
// original_source/mkfs.c and original_source/skinny28.c's skinny28_init).
func rootDirSectors(rootEntryCount uint16, bytesPerSector uint16) uint32 {
	return (uint32(rootEntryCount)*32 + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
}

// Decode reads and validates the boot sector at byte offset 0 of dev.
func Decode(dev *blockio.Device) (*BootSector, error) {
	raw := make([]byte, BPBSize)
	if err := dev.ReadAt(raw, 0); err != nil {
		return nil, skfs.ErrDeviceUnreadable(err)
	}

	bpb := BPB{}
	copy(bpb.JmpBoot[:], raw[0:3])
	copy(bpb.OEMName[:], raw[3:11])
	bpb.BytesPerSector = binary.LittleEndian.Uint16(raw[11:13])
	bpb.SectorsPerCluster = raw[13]
	bpb.ReservedSectors = binary.LittleEndian.Uint16(raw[14:16])
	bpb.NumFATs = raw[16]
	bpb.RootEntryCount = binary.LittleEndian.Uint16(raw[17:19])
	bpb.TotalSectors16 = binary.LittleEndian.Uint16(raw[19:21])
	bpb.MediaType = raw[21]
	bpb.TableSize16 = binary.LittleEndian.Uint16(raw[22:24])
	bpb.SectorsPerTrack = binary.LittleEndian.Uint16(raw[24:26])
	bpb.NumHeads = binary.LittleEndian.Uint16(raw[26:28])
	bpb.HiddenSectors = binary.LittleEndian.Uint32(raw[28:32])
	bpb.TotalSectors32 = binary.LittleEndian.Uint32(raw[32:36])

	if bpb.BytesPerSector == 0 || bpb.SectorsPerCluster == 0 {
		return nil, skfs.ErrBadSignature("zero bytes-per-sector or sectors-per-cluster")
	}

	extRaw := raw[36:90]

	totalSectors := uint32(bpb.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = bpb.TotalSectors32
	}

	fatSize16 := uint32(bpb.TableSize16)
	var fatSize32 uint32
	if fatSize16 == 0 {
		fatSize32 = binary.LittleEndian.Uint32(extRaw[0:4])
	}
	fatSize := fatSize16
	if fatSize == 0 {
		fatSize = fatSize32
	}
	if fatSize == 0 {
		return nil, skfs.ErrBadSignature("FAT size is zero in both 16- and 32-bit fields")
	}

	// A FAT32-layout BPB (16-bit table size of 0) has no fixed root
	// directory region; Skinny28 stores the version-table cluster in
	// root_entry_count, so that field is not an entry count there.
	var rootDirSec uint32
	if fatSize16 != 0 {
		rootDirSec = rootDirSectors(bpb.RootEntryCount, bpb.BytesPerSector)
	}
	totalFATSectors := uint32(bpb.NumFATs) * fatSize
	dataStartSector := uint32(bpb.ReservedSectors) + totalFATSectors + rootDirSec

	if totalSectors < dataStartSector {
		return nil, skfs.ErrBadSignature("total sector count smaller than reserved+FAT+root region")
	}
	totalDataSectors := totalSectors - dataStartSector
	totalClusters := totalDataSectors / uint32(bpb.SectorsPerCluster)

	bs := &BootSector{
		BPB:              bpb,
		RootDirSectors:   rootDirSec,
		TotalFATSectors:  totalFATSectors,
		DataStartSector:  dataStartSector,
		TotalClusters:    totalClusters,
		BytesPerCluster:  uint32(bpb.BytesPerSector) * uint32(bpb.SectorsPerCluster),
		FATVersion:       DetermineFATVersion(totalClusters),
		FATSizeInSectors: fatSize,
	}

	if bs.FATVersion == 32 {
		bs.Ext32 = &ExtendedBPB32{
			TableSize32:      fatSize32,
			ExtFlags:         binary.LittleEndian.Uint16(extRaw[4:6]),
			FATVersion:       binary.LittleEndian.Uint16(extRaw[6:8]),
			RootCluster:      binary.LittleEndian.Uint32(extRaw[8:12]),
			FSInfoSector:     binary.LittleEndian.Uint16(extRaw[12:14]),
			BackupBootSector: binary.LittleEndian.Uint16(extRaw[14:16]),
			DriveNumber:      extRaw[28],
			BootSignature:    extRaw[30],
			VolumeID:         binary.LittleEndian.Uint32(extRaw[31:35]),
		}
		copy(bs.Ext32.VolumeLabel[:], extRaw[35:46])
		copy(bs.Ext32.FATTypeLabel[:], extRaw[46:54])
		bs.RootCluster = bs.Ext32.RootCluster
		if rootDirSec != 0 {
			return nil, skfs.ErrBadSignature(fmt.Sprintf("root dir sectors is nonzero (%d) on a FAT32 volume", rootDirSec))
		}
	} else {
		bs.Ext16 = &ExtendedBPB16{
			DriveNumber:   extRaw[0],
			BootSignature: extRaw[2],
			VolumeID:      binary.LittleEndian.Uint32(extRaw[3:7]),
		}
		copy(bs.Ext16.VolumeLabel[:], extRaw[7:18])
		copy(bs.Ext16.FATTypeLabel[:], extRaw[18:26])
	}

	return bs, nil
}

// FSInfo holds the two free-space bookkeeping counters.
type FSInfo struct {
	NumFreeClusters uint32
	LastAlloc       uint32
}

// ReadFSInfo reads just the 8-byte counter pair at FSInfoOffset, leaving the
// surrounding MS signatures untouched, per spec.md §4.2.
func ReadFSInfo(dev *blockio.Device) (FSInfo, error) {
	buf := make([]byte, 8)
	if err := dev.ReadAt(buf, FSInfoOffset); err != nil {
		return FSInfo{}, err
	}
	return FSInfo{
		NumFreeClusters: binary.LittleEndian.Uint32(buf[0:4]),
		LastAlloc:       binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// WriteFSInfo rewrites only the 8-byte counter pair at FSInfoOffset.
func WriteFSInfo(dev *blockio.Device, info FSInfo) error {
	buf := make([]byte, 8)
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, info.NumFreeClusters)
	binary.Write(w, binary.LittleEndian, info.LastAlloc)
	_, err := dev.WriteAt(buf, FSInfoOffset)
	return err
}
