package skfs

import (
	"os"
	"time"
)

// MountFlags controls what operations a mounted volume permits, mirroring
// the permission-bit style of POSIX mount(2) flags.
type MountFlags int

const (
	MountFlagsAllowRead = MountFlags(1 << iota)
	MountFlagsAllowWrite
	MountFlagsAllowInsert
	MountFlagsAllowDelete
)

const MountFlagsAllowAll = MountFlagsAllowRead | MountFlagsAllowWrite |
	MountFlagsAllowInsert | MountFlagsAllowDelete

func (f MountFlags) CanRead() bool   { return f&MountFlagsAllowRead != 0 }
func (f MountFlags) CanWrite() bool  { return f&MountFlagsAllowWrite != 0 }
func (f MountFlags) CanInsert() bool { return f&MountFlagsAllowInsert != 0 }
func (f MountFlags) CanDelete() bool { return f&MountFlagsAllowDelete != 0 }

// FileStat is a platform-independent subset of syscall.Stat_t, returned by
// fatfs.Volume.Stat; skinny28fs has no Stat operation.
type FileStat struct {
	InodeNumber uint64
	ModeFlags   os.FileMode
	Size        int64
	BlockSize   int64
	NumBlocks   int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	AccessedAt  time.Time
}

// Truncator is implemented by backing stores that can shrink (e.g. *os.File).
// Block devices backed by a fixed-size in-memory buffer do not implement it.
type Truncator interface {
	Truncate(size int64) error
}

// FAT directory-entry attribute bits (spec.md §3 "Directory entry").
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20
	AttrDevice      = 0x40
	AttrLongName    = 0x0F
)
