package dirent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBasisNameBasic(t *testing.T) {
	name := GenerateBasisName("readme.txt")
	assert.Equal(t, "README  ", string(name[0:8]))
	assert.Equal(t, "TXT", string(name[8:11]))
}

func TestGenerateBasisNameSubstitutesPunctuation(t *testing.T) {
	name := GenerateBasisName("a+b,c.txt")
	// '+' and ',' both map to '_'.
	assert.Equal(t, byte('_'), name[1])
	assert.Equal(t, byte('_'), name[3])
}

func TestGenerateBasisNameNoExtension(t *testing.T) {
	name := GenerateBasisName("noext")
	assert.Equal(t, "NOEXT   ", string(name[0:8]))
	assert.Equal(t, "   ", string(name[8:11]))
}

func TestLFNChecksumDeterministic(t *testing.T) {
	name := GenerateBasisName("readme.txt")
	c1 := LFNChecksum(name)
	c2 := LFNChecksum(name)
	assert.Equal(t, c1, c2)
}

func TestBuildAndDecodeLongEntriesRoundTrip(t *testing.T) {
	long := "a very long filename that needs several slots.txt"
	short := GenerateBasisName(long)
	slots := BuildLongEntries(long, short)
	require.NotEmpty(t, slots)

	// Highest ordinal (the OrderLast bit) must be the first physical slot.
	assert.NotZero(t, slots[0].Order&OrderLast)

	decoded := DecodeLongName(slots)
	assert.Equal(t, long, decoded)

	checksum := LFNChecksum(short)
	for _, s := range slots {
		assert.Equal(t, checksum, s.Checksum)
	}
}

func TestBuildLongEntriesShortName(t *testing.T) {
	long := "hi.txt"
	short := GenerateBasisName(long)
	slots := BuildLongEntries(long, short)
	require.Len(t, slots, 1)
	assert.Equal(t, long, DecodeLongName(slots))
}

func TestRawEncodeDecodeRoundTrip(t *testing.T) {
	r := Raw{Attr: 0x20, FileSize: 1234}
	copy(r.Name[:], "HELLO   TXT")
	r.SetClusterOrSlot(0xDEADBEEF)

	decoded := DecodeRaw(r.Encode())
	assert.Equal(t, r.Name, decoded.Name)
	assert.Equal(t, r.Attr, decoded.Attr)
	assert.Equal(t, r.FileSize, decoded.FileSize)
	assert.Equal(t, uint32(0xDEADBEEF), decoded.ClusterOrSlot())
}

func TestDotEntriesNameAndCluster(t *testing.T) {
	dot, dotdot := DotEntries(5, 2, 0x10)
	assert.Equal(t, DotName, dot.Name)
	assert.Equal(t, uint32(5), dot.ClusterOrSlot())
	assert.Equal(t, DotDotName, dotdot.Name)
	assert.Equal(t, uint32(2), dotdot.ClusterOrSlot())
	assert.Equal(t, uint8(0x10), dot.Attr)
	assert.Equal(t, uint8(0x10), dotdot.Attr)
}

func TestRepairDeletedFirstByte(t *testing.T) {
	var name [11]byte
	name[0] = AliasDeletedAsE5
	repaired := RepairDeletedFirstByte(name)
	assert.Equal(t, byte(MarkerDeleted), repaired[0])
}
