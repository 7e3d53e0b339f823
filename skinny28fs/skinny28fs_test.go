package skinny28fs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs"
)

// buildSkinnyImage assembles a minimal Skinny28 volume: FAT32 layout with
// the root_entry_count field repurposed as the version table's cluster
// number (cluster 3, immediately after the root directory at cluster 2),
// following original_source/skinny28.c's skinny28_init.
func buildSkinnyImage(t *testing.T, extraDataClusters uint32) []byte {
	t.Helper()
	const bytesPerSector = 512
	const sectorsPerCluster = 1
	const reservedSectors = 1
	const numFATs = 1
	const rootCluster = 2
	const versionTableCluster = 3

	totalClusters := uint32(65525) + extraDataClusters
	fatSizeSectors := (totalClusters*4 + bytesPerSector - 1) / bytesPerSector
	dataStartSector := reservedSectors + numFATs*fatSizeSectors
	totalSectors := dataStartSector + totalClusters*sectorsPerCluster

	buf := make([]byte, int64(totalSectors)*bytesPerSector)
	binary.LittleEndian.PutUint16(buf[11:13], bytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], versionTableCluster)
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)

	ext := buf[36:90]
	binary.LittleEndian.PutUint32(ext[0:4], fatSizeSectors)
	binary.LittleEndian.PutUint32(ext[8:12], rootCluster)

	fatOffset := int64(reservedSectors) * bytesPerSector
	entry := make([]byte, 4)
	binary.LittleEndian.PutUint32(entry, 0x0FFFFFFF)
	copy(buf[fatOffset+2*4:fatOffset+3*4], entry) // root dir cluster, EOC
	copy(buf[fatOffset+3*4:fatOffset+4*4], entry)  // version table cluster, EOC

	return buf
}

func TestMountDecodesSkinny28(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()
	require.Equal(t, 32, v.Boot().FATVersion)
}

func TestCreateWriteReadFile(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("version 1")))
	data, err := v.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "version 1", string(data))
}

func TestWriteRetainsFourRevisions(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("rev1")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev2")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev3")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev4")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev5")))

	current, err := v.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "rev5", string(current))

	rec, err := v.GetRevision("/a.txt")
	require.NoError(t, err)
	require.NotZero(t, rec.V1)
	require.NotZero(t, rec.V2)
	require.NotZero(t, rec.V3)

	r1, err := v.ReadRevision("/a.txt", 1)
	require.NoError(t, err)
	require.Contains(t, string(r1), "rev4")
}

func TestRevertRestoresOlderRevision(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("rev1")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev2")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev3")))

	require.NoError(t, v.Revert("/a.txt", 2))

	data, err := v.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "rev1", string(data))
}

func TestMkdirAndNestedFile(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.Mkdir("/sub"))
	require.NoError(t, v.WriteFile("/sub/nested.txt", []byte("nested")))

	data, err := v.ReadFile("/sub/nested.txt")
	require.NoError(t, err)
	require.Equal(t, "nested", string(data))

	entries, err := v.Readdir("/sub")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, ".", displayName(entries[0]))
	require.Equal(t, "..", displayName(entries[1]))
}

func TestAppendFileExtendsCurrentRevisionOnly(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("one")))
	require.NoError(t, v.AppendFile("/a.txt", []byte("two")))

	data, err := v.ReadFile("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(data))

	rec, err := v.GetRevision("/a.txt")
	require.NoError(t, err)
	require.Zero(t, rec.V1, "append must not push a new version-table entry")
}

func TestRemoveFreesAllRevisions(t *testing.T) {
	img := buildSkinnyImage(t, 100)
	v, err := MountMemory(img, skfs.MountFlagsAllowAll)
	require.NoError(t, err)
	defer v.Teardown()

	require.NoError(t, v.WriteFile("/a.txt", []byte("rev1")))
	require.NoError(t, v.WriteFile("/a.txt", []byte("rev2")))
	require.NoError(t, v.Remove("/a.txt"))

	_, err = v.ReadFile("/a.txt")
	require.Error(t, err)

	free, err := v.Table().RescanFree()
	require.NoError(t, err)
	require.Equal(t, v.Boot().TotalClusters-2, free) // only root dir + version table clusters in use
}
