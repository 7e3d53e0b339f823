// Command mkfs formats a disk image as FAT16, FAT32, or Skinny28, following
// original_source/mkfs.c's main(): parse a size, pick a cluster size, write a
// boot sector, zeroed FAT copies, and a root directory (the fixed region on
// FAT16, cluster 2 on FAT32/Skinny28) with a single volume-label entry, plus
// an empty version table in cluster 3 on Skinny28.
//
// Grounded on github.com/dargueta/disko's cmd/main.go urfave/cli.App
// scaffolding.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kvnallsn/skfs/internal/blockio"
	"github.com/kvnallsn/skfs/internal/bootrec"
	"github.com/kvnallsn/skfs/internal/dirent"
	"github.com/kvnallsn/skfs/internal/geometry"
	"github.com/kvnallsn/skfs/internal/version"
)

// bootCode is a not-bootable 420-byte stub, following original_source/mkfs.c's
// bootcode array (every real byte there is a literal x86 stub this module
// has no reason to execute; a zero-filled placeholder is used instead).
var bootCode = make([]byte, 420)

// bootSignature is the mandatory two-byte 0x55AA trailer of every boot
// sector, per original_source/mkfs.c's bootsig.
var bootSignature = [2]byte{0x55, 0xAA}

func main() {
	app := &cli.App{
		Name:  "mkfs",
		Usage: "format a disk image as FAT16, FAT32, or Skinny28",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "size", Usage: "volume size, e.g. 64M", Required: true},
			&cli.StringFlag{Name: "type", Usage: "fat16, fat32, or skinny28", Value: "skinny28"},
			&cli.StringFlag{Name: "label", Usage: "volume label", Value: "NO NAME"},
			&cli.UintFlag{Name: "sectors-per-cluster", Usage: "override automatic cluster-size selection"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: mkfs --size SIZE [--type TYPE] IMAGE_PATH")
	}
	path := c.Args().First()

	sizeBytes, err := geometry.ParseSize(c.String("size"))
	if err != nil {
		return err
	}

	sectorsPerCluster := uint8(c.Uint("sectors-per-cluster"))
	if sectorsPerCluster == 0 {
		sectorsPerCluster = geometry.SectorsPerClusterFor(sizeBytes)
	}

	const bytesPerSector = 512
	const numFATs = 2
	const reservedSectors = 32

	totalSectors := uint32(sizeBytes / bytesPerSector)

	fsType := c.String("type")

	dev, err := blockio.Open(path, true, int64(sizeBytes))
	if err != nil {
		return err
	}
	defer dev.Close()

	switch fsType {
	case "fat16":
		return formatFAT16(dev, totalSectors, bytesPerSector, sectorsPerCluster, c.String("label"))
	case "fat32", "skinny28":
		return formatFAT32(dev, totalSectors, bytesPerSector, sectorsPerCluster, c.String("label"), fsType == "skinny28")
	default:
		return fmt.Errorf("unknown type %q", fsType)
	}
}

func formatFAT16(dev *blockio.Device, totalSectors uint32, bytesPerSector uint32, sectorsPerCluster uint8, label string) error {
	const reservedSectors = 1
	const numFATs = 2
	const rootEntryCount = 512

	// Estimate FAT size then round; FAT16 entries are 2 bytes.
	dataSectorsGuess := totalSectors - reservedSectors - uint32(rootEntryCount*32+int(bytesPerSector)-1)/bytesPerSector
	clusterCount := dataSectorsGuess / uint32(sectorsPerCluster)
	fatSize16 := (clusterCount*2 + bytesPerSector - 1) / bytesPerSector

	buf := make([]byte, bytesPerSector)
	buf[0], buf[1], buf[2] = 0xEB, 0x58, 0x90
	copy(buf[3:11], []byte("MKFSSK16"))
	binary.LittleEndian.PutUint16(buf[11:13], uint16(bytesPerSector))
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], rootEntryCount)
	if totalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(totalSectors))
	} else {
		binary.LittleEndian.PutUint32(buf[32:36], totalSectors)
	}
	buf[21] = 0xF8
	binary.LittleEndian.PutUint16(buf[22:24], uint16(fatSize16))
	buf[36] = 0x80 // drive number
	buf[38] = 0x29 // extended boot signature
	copy(buf[43:54], padLabel(label))
	copy(buf[54:62], []byte("FAT16   "))
	buf[510], buf[511] = bootSignature[0], bootSignature[1]

	if _, err := dev.WriteAt(buf, 0); err != nil {
		return err
	}

	// Correct root-dir-sectors formula (spec.md §9 fixes the source's bug).
	rootDirSectors := (uint32(rootEntryCount)*32 + bytesPerSector - 1) / bytesPerSector

	fatStart := int64(reservedSectors) * int64(bytesPerSector)
	if err := writeZeroedFATs(dev, fatStart, int64(fatSize16)*int64(bytesPerSector), numFATs, bytesPerSector, 0xF8); err != nil {
		return err
	}

	rootDirStart := fatStart + int64(numFATs)*int64(fatSize16)*int64(bytesPerSector)
	return writeRootLabel(dev, rootDirStart, int64(rootDirSectors)*int64(bytesPerSector), label)
}

func formatFAT32(dev *blockio.Device, totalSectors uint32, bytesPerSector uint32, sectorsPerCluster uint8, label string, skinny bool) error {
	const reservedSectors = 32
	const numFATs = 2
	const rootCluster = 2

	clusterCountGuess := totalSectors / uint32(sectorsPerCluster)
	fatSize32 := (clusterCountGuess*4 + bytesPerSector - 1) / bytesPerSector

	// Cluster 3 holds the version table on a Skinny28 volume; on plain FAT32
	// it is left free and root_entry_count is 0.
	versionTableCluster := uint16(3)

	buf := make([]byte, bytesPerSector)
	buf[0], buf[1], buf[2] = 0xEB, 0x58, 0x90
	copy(buf[3:11], []byte("MKFSSK32"))
	binary.LittleEndian.PutUint16(buf[11:13], uint16(bytesPerSector))
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	if skinny {
		// spec.md Skinny28 §3: root_entry_count repurposed as the version
		// table's cluster number.
		binary.LittleEndian.PutUint16(buf[17:19], versionTableCluster)
	} else {
		binary.LittleEndian.PutUint16(buf[17:19], 0)
	}
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)
	buf[21] = 0xF8

	ext := buf[36:bootrec.BPBSize]
	binary.LittleEndian.PutUint32(ext[0:4], fatSize32)
	binary.LittleEndian.PutUint32(ext[8:12], rootCluster)
	binary.LittleEndian.PutUint16(ext[12:14], 1) // FSInfoSector field is informational only; the real offset is bootrec.FSInfoOffset
	binary.LittleEndian.PutUint16(ext[14:16], bootrec.BackupBootSectorIndex)
	ext[28] = 0x80
	ext[30] = 0x29
	copy(ext[35:46], padLabel(label))
	if skinny {
		copy(ext[46:54], []byte("SKINNY28"))
	} else {
		copy(ext[46:54], []byte("FAT32   "))
	}
	buf[510], buf[511] = bootSignature[0], bootSignature[1]

	if _, err := dev.WriteAt(buf, 0); err != nil {
		return err
	}
	if _, err := dev.WriteAt(buf, int64(bootrec.BackupBootSectorIndex)*int64(bytesPerSector)); err != nil {
		return err
	}

	freeClusters := clusterCountGuess - 1
	if err := bootrec.WriteFSInfo(dev, bootrec.FSInfo{NumFreeClusters: freeClusters, LastAlloc: rootCluster + 1}); err != nil {
		return err
	}

	fatStart := int64(reservedSectors) * int64(bytesPerSector)
	if err := writeZeroedFATs(dev, fatStart, int64(fatSize32)*int64(bytesPerSector), numFATs, bytesPerSector, 0xF8); err != nil {
		return err
	}

	// Mark cluster 2 (root dir) and, for Skinny28, cluster 3 (version
	// table) as allocated end-of-chain entries in every FAT copy.
	for copyIdx := 0; copyIdx < numFATs; copyIdx++ {
		off := fatStart + int64(copyIdx)*int64(fatSize32)*int64(bytesPerSector)
		entry := make([]byte, 4)
		binary.LittleEndian.PutUint32(entry, 0x0FFFFFFF)
		if _, err := dev.WriteAt(entry, off+2*4); err != nil {
			return err
		}
		if skinny {
			if _, err := dev.WriteAt(entry, off+3*4); err != nil {
				return err
			}
		}
	}

	dataStart := fatStart + int64(numFATs)*int64(fatSize32)*int64(bytesPerSector)
	clusterBytes := int64(bytesPerSector) * int64(sectorsPerCluster)
	rootDirOffset := dataStart + int64(rootCluster-2)*clusterBytes
	if err := writeRootLabel(dev, rootDirOffset, clusterBytes, label); err != nil {
		return err
	}

	if skinny {
		versionTableOffset := dataStart + int64(versionTableCluster-2)*clusterBytes
		empty := make([]byte, version.RecordSize)
		for i := 0; i < int(clusterBytes)/version.RecordSize; i++ {
			if _, err := dev.WriteAt(empty, versionTableOffset+int64(i*version.RecordSize)); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeZeroedFATs(dev *blockio.Device, fatStart int64, fatSizeBytes int64, numFATs int, bytesPerSector uint32, mediaType byte) error {
	zero := make([]byte, fatSizeBytes)
	for i := 0; i < numFATs; i++ {
		off := fatStart + int64(i)*fatSizeBytes
		if _, err := dev.WriteAt(zero, off); err != nil {
			return err
		}
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], 0x0FFFFF00|uint32(mediaType))
		binary.LittleEndian.PutUint32(header[4:8], 0x0FFFFFFF)
		if _, err := dev.WriteAt(header, off); err != nil {
			return err
		}
	}
	return nil
}

func writeRootLabel(dev *blockio.Device, offset int64, size int64, label string) error {
	raw := dirent.Raw{Attr: 0x08} // AttrVolumeLabel
	copy(raw.Name[:], padLabel(label))
	zero := make([]byte, size)
	if _, err := dev.WriteAt(zero, offset); err != nil {
		return err
	}
	_, err := dev.WriteAt(raw.Encode(), offset)
	return err
}

func padLabel(label string) []byte {
	out := make([]byte, 11)
	for i := range out {
		out[i] = ' '
	}
	copy(out, []byte(label))
	return out
}
