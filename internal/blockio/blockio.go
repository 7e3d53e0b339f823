// Package blockio implements component C1, raw random-access byte I/O over a
// file or an in-memory image.
//
// Grounded on github.com/dargueta/disko's drivers/common/blockstream.go
// (BlockStream wraps an io.ReadWriteSeeker, exposes absolute-offset Read and
// Write, plus Resize). This rewrite drops the per-call Seek dance in favor of
// io.ReaderAt/io.WriterAt, which is what the rest of the engine (cluster I/O,
// boot sector codec) actually wants: an absolute byte offset, no shared
// cursor to race against.
package blockio

import (
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/bytesextra"

	"github.com/kvnallsn/skfs"
)

// Device is a random-access byte-addressable block device: a regular file or
// an in-memory image.
type Device struct {
	rw   io.ReaderAt
	wr   io.WriterAt
	size int64

	// closer is non-nil when the device owns an *os.File it must close on
	// Close.
	closer io.Closer
	// truncator is non-nil when the backing store can be resized.
	truncator skfs.Truncator
}

// Open opens a regular file or character device at path for random-access
// I/O. If create is true and the path does not exist, a new zero-filled file
// of the given size is created.
func Open(path string, create bool, size int64) (*Device, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, skfs.ErrDeviceUnreadable(err)
	}

	if create {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, skfs.ErrDeviceUnreadable(err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, skfs.ErrDeviceUnreadable(err)
	}

	return &Device{rw: f, wr: f, size: info.Size(), closer: f, truncator: f}, nil
}

// NewMemory wraps a byte slice as a block device, for tests and for
// RAM-backed volumes that never touch disk. The slice is used directly: its
// bytes are the device's bytes, nothing is copied on Open.
func NewMemory(buf []byte) *Device {
	rws := bytesextra.NewReadWriteSeeker(buf)
	return &Device{rw: rws, wr: rws, size: int64(len(buf))}
}

// Len returns the current size of the device, in bytes.
func (d *Device) Len() int64 { return d.size }

// ReadAt reads len(buf) bytes starting at the given absolute byte offset. It
// fails if the read would run past the end of the device.
func (d *Device) ReadAt(buf []byte, offset int64) error {
	if offset < 0 || offset+int64(len(buf)) > d.size {
		return fmt.Errorf("blockio: read of %d bytes at offset %d exceeds device size %d", len(buf), offset, d.size)
	}
	n, err := d.rw.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(buf) {
		return fmt.Errorf("blockio: short read: wanted %d bytes at %d, got %d", len(buf), offset, n)
	}
	return nil
}

// WriteAt writes buf at the given absolute byte offset. Short writes from the
// underlying store are surfaced to the caller unmodified, per spec.md §4.5
// ("no short writes are retried").
func (d *Device) WriteAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset+int64(len(buf)) > d.size {
		return 0, fmt.Errorf("blockio: write of %d bytes at offset %d exceeds device size %d", len(buf), offset, d.size)
	}
	return d.wr.WriteAt(buf, offset)
}

// Close releases any file handle owned by the device. It is a no-op for
// in-memory devices.
func (d *Device) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
