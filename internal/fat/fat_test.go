package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs/internal/blockio"
)

const testBytesPerSector = 512

func newTestTable(t *testing.T, numCopies uint8, nClusters uint32) (*Table, *blockio.Device) {
	t.Helper()
	fatSizeSectors := uint32(1)
	size := int64(testBytesPerSector) * int64(1+uint32(numCopies)*fatSizeSectors+16)
	dev := blockio.NewMemory(make([]byte, size))
	table := New(dev, 1, testBytesPerSector, fatSizeSectors, numCopies, nClusters)
	return table, dev
}

func TestPutGetRoundTrip(t *testing.T) {
	table, _ := newTestTable(t, 2, 100)
	require.NoError(t, table.Put(5, 0x0FFFFFFF))
	v, err := table.Get(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0x0FFFFFFF), v)
}

func TestPutPreservesHighNibble(t *testing.T) {
	table, dev := newTestTable(t, 1, 100)
	raw := make([]byte, 4)
	raw[3] = 0xF0 // high nibble pre-set on disk
	_, err := dev.WriteAt(raw, table.entryOffset(0, 5))
	require.NoError(t, err)

	require.NoError(t, table.Put(5, 0x00000042))

	buf := make([]byte, 4)
	require.NoError(t, dev.ReadAt(buf, table.entryOffset(0, 5)))
	require.Equal(t, byte(0xF0), buf[3]&0xF0)
}

func TestPutMirrorsToEveryCopy(t *testing.T) {
	table, _ := newTestTable(t, 3, 100)
	require.NoError(t, table.Put(7, 99))
	for copyIndex := uint8(0); copyIndex < 3; copyIndex++ {
		v, err := table.rawGet(copyIndex, 7)
		require.NoError(t, err)
		require.Equal(t, uint32(99), v)
	}
	require.Empty(t, table.VerifyMirrors())
}

func TestGetOutOfRangeClusterFails(t *testing.T) {
	table, _ := newTestTable(t, 1, 10)
	_, err := table.Get(1)
	require.Error(t, err)
	_, err = table.Get(0)
	require.Error(t, err)
	_, err = table.Get(13)
	require.Error(t, err)
}

func TestAllocateSkipsInUseClusters(t *testing.T) {
	table, _ := newTestTable(t, 1, 10)
	require.NoError(t, table.Put(2, EOCMark))
	require.NoError(t, table.Put(3, EOCMark))
	_, err := table.RescanFree()
	require.NoError(t, err)

	c, err := table.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, uint32(4), c)
}

func TestAllocateFailsWhenFull(t *testing.T) {
	table, _ := newTestTable(t, 1, 2)
	require.NoError(t, table.Put(2, EOCMark))
	require.NoError(t, table.Put(3, EOCMark))
	_, err := table.RescanFree()
	require.NoError(t, err)

	_, err = table.Allocate(0)
	require.Error(t, err)
}

func TestFreeCountTracksAllocateAndFree(t *testing.T) {
	table, _ := newTestTable(t, 1, 10)
	_, err := table.RescanFree()
	require.NoError(t, err)
	require.Equal(t, uint32(10), table.FreeCount())

	c, err := table.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, uint32(9), table.FreeCount())
	require.Equal(t, c, table.LastAlloc())

	require.NoError(t, table.Free(c))
	require.Equal(t, uint32(10), table.FreeCount())
}

func TestIsEndOfChain(t *testing.T) {
	require.False(t, IsEndOfChain(5))
	require.True(t, IsEndOfChain(EOC))
	require.True(t, IsEndOfChain(EOCMark))
}
