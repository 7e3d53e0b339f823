package fatfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/bootrec"
)

// buildFAT32Image assembles a minimal-but-valid FAT32 volume image in
// memory: one reserved sector, one FAT copy sized for the requested cluster
// count, a root directory cluster, and the data region. The cluster count is
// kept just above the FAT16/FAT32 boundary (65525) so bootrec.Decode
// classifies it as FAT32, per spec.md §2's classification rule.
func buildFAT32Image(t *testing.T, extraDataClusters uint32) []byte {
	t.Helper()
	const bytesPerSector = 512
	const sectorsPerCluster = 1
	const reservedSectors = 1
	const numFATs = 1
	const rootCluster = 2

	totalClusters := uint32(65525) + extraDataClusters
	fatSizeSectors := (totalClusters*4 + bytesPerSector - 1) / bytesPerSector
	dataStartSector := reservedSectors + numFATs*fatSizeSectors
	totalSectors := dataStartSector + totalClusters*sectorsPerCluster

	buf := make([]byte, int64(totalSectors)*bytesPerSector)
	binary.LittleEndian.PutUint16(buf[11:13], bytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], 0) // root_entry_count: 0 on plain FAT32
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)

	ext := buf[36:90]
	binary.LittleEndian.PutUint32(ext[0:4], fatSizeSectors)
	binary.LittleEndian.PutUint32(ext[8:12], rootCluster)

	fatOffset := int64(reservedSectors) * bytesPerSector
	entry := make([]byte, 4)
	binary.LittleEndian.PutUint32(entry, 0x0FFFFFFF)
	copy(buf[fatOffset+2*4:fatOffset+3*4], entry)

	return buf
}

func TestMountDecodesFAT32(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()
	require.Equal(t, 32, v.Boot().FATVersion)
}

func TestCreateWriteReadFile(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/hello.txt", []byte("hello, fat32")))

	data, err := v.ReadFile("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, "hello, fat32", string(data))

	entries, err := v.Readdir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint32(len("hello, fat32")), entries[0].Size)
}

func TestOverwriteFileShrinksChain(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	big := make([]byte, 2000)
	require.NoError(t, v.WriteFile("/f.bin", big))
	require.NoError(t, v.WriteFile("/f.bin", []byte("small")))

	data, err := v.ReadFile("/f.bin")
	require.NoError(t, err)
	require.Equal(t, "small", string(data))
}

func TestMkdirAndNestedFile(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.Mkdir("/sub"))
	require.NoError(t, v.WriteFile("/sub/nested.txt", []byte("nested")))

	data, err := v.ReadFile("/sub/nested.txt")
	require.NoError(t, err)
	require.Equal(t, "nested", string(data))
}

func TestMkdirWritesDotEntries(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.Mkdir("/sub"))

	entries, err := v.Readdir("/sub")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", displayName(entries[0]))
	require.Equal(t, "..", displayName(entries[1]))
}

func TestAppendFile(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("first")))
	require.NoError(t, v.AppendFile("/a.txt", []byte("second")))

	data, err := v.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "firstsecond", string(data))
}

func TestFSInfoPersistsAcrossTeardownAndRemount(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	require.NoError(t, v.WriteFile("/a.txt", []byte("payload")))
	require.NoError(t, v.Teardown())

	info, err := bootrec.ReadFSInfo(v.Device())
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), info.LastAlloc)

	v2, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v2.Teardown()
	data, err := v2.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestRemoveFile(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/gone.txt", []byte("x")))
	require.NoError(t, v.Remove("/gone.txt"))

	_, err = v.ReadFile("/gone.txt")
	require.Error(t, err)
}

func TestReadMissingFileFails(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	_, err = v.ReadFile("/nope.txt")
	require.Error(t, err)
}

func TestLongFileNameRoundTrip(t *testing.T) {
	img := buildFAT32Image(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	long := "a rather long descriptive filename.txt"
	require.NoError(t, v.WriteFile("/"+long, []byte("payload")))

	entries, err := v.Readdir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, long, entries[0].LongName)
}
