package skfs

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverErrorUnwrapsToErrno(t *testing.T) {
	err := ErrOutOfSpace()
	var target *DriverError
	require.True(t, errors.As(err, &target))
	require.True(t, errors.Is(err, syscall.ENOSPC))
}

func TestDriverErrorWithMessageIncludesErrnoText(t *testing.T) {
	err := NewDriverErrorWithMessage(syscall.EINVAL, "bad cluster: 9001")
	require.Contains(t, err.Error(), "bad cluster: 9001")
	require.Contains(t, err.Error(), syscall.EINVAL.Error())
}

func TestMountFlagsCapabilityBits(t *testing.T) {
	ro := MountFlagsAllowRead
	require.True(t, ro.CanRead())
	require.False(t, ro.CanWrite())

	all := MountFlagsAllowAll
	require.True(t, all.CanRead())
	require.True(t, all.CanWrite())
	require.True(t, all.CanInsert())
	require.True(t, all.CanDelete())
}
