package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSizeSuffixes(t *testing.T) {
	n, err := ParseSize("64M")
	require.NoError(t, err)
	require.Equal(t, uint64(64*1024*1024), n)

	n, err = ParseSize("1G")
	require.NoError(t, err)
	require.Equal(t, uint64(1024*1024*1024), n)

	n, err = ParseSize("512K")
	require.NoError(t, err)
	require.Equal(t, uint64(512*1024), n)
}

func TestParseSizeInvalid(t *testing.T) {
	_, err := ParseSize("notasize")
	require.Error(t, err)
}

func TestSectorsPerClusterForGrowsWithSize(t *testing.T) {
	small := SectorsPerClusterFor(16 * 1024 * 1024)
	large := SectorsPerClusterFor(64 * 1024 * 1024 * 1024)
	require.LessOrEqual(t, small, large)
}
