package bootrec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs/internal/blockio"
)

func TestDetermineFATVersion(t *testing.T) {
	require.Equal(t, 16, DetermineFATVersion(65524))
	require.Equal(t, 32, DetermineFATVersion(65525))
}

// TestRootDirSectorsFixesSourceBug exercises the corrected formula against
// original_source/mkfs.c's formula, which always yields 0 regardless of
// root_entry_count because it computes (bytes_per_sector-1)/bytes_per_sector
// instead of ((root_entry_count*32)+(bytes_per_sector-1))/bytes_per_sector.
func TestRootDirSectorsFixesSourceBug(t *testing.T) {
	got := rootDirSectors(512, 512)
	require.Equal(t, uint32(32), got)
	require.NotZero(t, got, "must not reproduce the source's always-zero defect")
}

func buildFAT16Image(t *testing.T) []byte {
	t.Helper()
	const bytesPerSector = 512
	const sectorsPerCluster = 4
	const reservedSectors = 1
	const numFATs = 2
	const rootEntryCount = 512
	const fatSize16 = 4
	rootDirSec := rootDirSectors(rootEntryCount, bytesPerSector)
	dataStart := reservedSectors + numFATs*fatSize16 + rootDirSec
	totalSectors := dataStart + 2000*sectorsPerCluster

	buf := make([]byte, int(totalSectors)*bytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], rootEntryCount)
	binary.LittleEndian.PutUint16(buf[11:13], bytesPerSector)
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)
	binary.LittleEndian.PutUint16(buf[22:24], fatSize16)
	return buf
}

func TestDecodeFAT16Image(t *testing.T) {
	raw := buildFAT16Image(t)
	dev := blockio.NewMemory(raw)
	bs, err := Decode(dev)
	require.NoError(t, err)
	require.Equal(t, 16, bs.FATVersion)
	require.NotNil(t, bs.Ext16)
	require.Nil(t, bs.Ext32)
	require.Equal(t, uint32(2000), bs.TotalClusters)
}

func TestFSInfoRoundTrip(t *testing.T) {
	dev := blockio.NewMemory(make([]byte, 4096))
	want := FSInfo{NumFreeClusters: 12345, LastAlloc: 67}
	require.NoError(t, WriteFSInfo(dev, want))
	got, err := ReadFSInfo(dev)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
