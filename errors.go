// Package skfs provides the shared types and error conventions used by every
// engine and the VFS dispatch layer: a FAT16/FAT32 engine (package fatfs) and
// its version-tracking derivative, Skinny28 (package skinny28fs).
package skfs

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a POSIX errno code, with an optional
// message giving more context than the bare errno text.
type DriverError struct {
	Errno   syscall.Errno
	message string
}

func (e *DriverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Errno.Error()
}

func (e *DriverError) Unwrap() error {
	return e.Errno
}

// NewDriverError creates a DriverError with the default message for the errno
// code.
func NewDriverError(errno syscall.Errno) *DriverError {
	return &DriverError{Errno: errno}
}

// NewDriverErrorWithMessage creates a DriverError with a custom message
// prefixed by the errno code's own text.
func NewDriverErrorWithMessage(errno syscall.Errno, message string) *DriverError {
	return &DriverError{Errno: errno, message: fmt.Sprintf("%s: %s", errno.Error(), message)}
}

// The rows of spec.md §7's error table, named for the conditions they cover.
var (
	// ErrDeviceUnreadable: block-device open/read fails at mount.
	ErrDeviceUnreadable = func(cause error) error {
		return NewDriverErrorWithMessage(syscall.EIO, fmt.Sprintf("device unreadable: %s", cause))
	}
	// ErrBadSignature: the BPB does not validate.
	ErrBadSignature = func(reason string) error {
		return NewDriverErrorWithMessage(syscall.EUCLEAN, fmt.Sprintf("bad boot sector: %s", reason))
	}
	// ErrNoSuchPath: open/create cannot find a parent component.
	ErrNoSuchPath = func(path string) error {
		return NewDriverErrorWithMessage(syscall.ENOENT, fmt.Sprintf("no such path: %q", path))
	}
	// ErrDirectoryFull: no room for an LFN+8.3 run in the target directory.
	ErrDirectoryFull = func(dir string) error {
		return NewDriverErrorWithMessage(syscall.ENOSPC, fmt.Sprintf("directory full: %q", dir))
	}
	// ErrOutOfSpace: the FAT allocator has no free cluster left.
	ErrOutOfSpace = func() error {
		return NewDriverError(syscall.ENOSPC)
	}
	// ErrBadRevision: Skinny28 revert/print with an index outside {1,2,3}.
	ErrBadRevision = func(revision int) error {
		return NewDriverErrorWithMessage(syscall.EINVAL, fmt.Sprintf("bad revision index: %d", revision))
	}
	// ErrBadCluster: FAT get/put addressed an out-of-range cluster.
	ErrBadCluster = func(cluster uint32) error {
		return NewDriverErrorWithMessage(syscall.EINVAL, fmt.Sprintf("bad cluster: %d", cluster))
	}
	// ErrNotADirectory / ErrIsADirectory: operation requires the other kind
	// of directory entry.
	ErrNotADirectory = func(path string) error {
		return NewDriverErrorWithMessage(syscall.ENOTDIR, fmt.Sprintf("not a directory: %q", path))
	}
	ErrIsADirectory = func(path string) error {
		return NewDriverErrorWithMessage(syscall.EISDIR, fmt.Sprintf("is a directory: %q", path))
	}
	ErrExists = func(path string) error {
		return NewDriverErrorWithMessage(syscall.EEXIST, fmt.Sprintf("already exists: %q", path))
	}
	ErrNotSupported = func(op string) error {
		return NewDriverErrorWithMessage(syscall.ENOTSUP, fmt.Sprintf("not supported: %s", op))
	}
)
