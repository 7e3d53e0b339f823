package blockio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteAtRoundTrip(t *testing.T) {
	dev := NewMemory(make([]byte, 1024))
	data := []byte("the quick brown fox")
	n, err := dev.WriteAt(data, 100)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	require.NoError(t, dev.ReadAt(buf, 100))
	require.Equal(t, data, buf)
}

func TestReadAtPastEndFails(t *testing.T) {
	dev := NewMemory(make([]byte, 16))
	buf := make([]byte, 8)
	require.Error(t, dev.ReadAt(buf, 12))
}

func TestWriteAtPastEndFails(t *testing.T) {
	dev := NewMemory(make([]byte, 16))
	_, err := dev.WriteAt([]byte("toolong!"), 12)
	require.Error(t, err)
}

func TestLen(t *testing.T) {
	dev := NewMemory(make([]byte, 42))
	require.Equal(t, int64(42), dev.Len())
}
