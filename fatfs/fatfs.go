// Package fatfs implements component C6: a conventional FAT16/FAT32 volume
// engine — mount, path resolution, directory listing, file read/write/create,
// and deletion.
//
// Grounded on github.com/dargueta/disko's file_systems/fat/driverbase.go
// (FATDriverCommon / FATDriver: readAbsoluteSectors, readCluster,
// getClusterInChain, resolvePathToDirent, readDirFromDirent). That file left
// Open, Mkdir, MkdirAll, RemoveAll, Repath, Truncate, Create, and WriteFile as
// TODO stubs; this package completes them for Skinny28's parent format using
// the cluster-chain and directory codecs built for this spec
// (internal/clusterio, internal/dirent, internal/fat).
package fatfs

import (
	"os"
	"strings"
	"time"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
	"github.com/kvnallsn/skfs/internal/bootrec"
	"github.com/kvnallsn/skfs/internal/clusterio"
	"github.com/kvnallsn/skfs/internal/dirent"
	"github.com/kvnallsn/skfs/internal/fat"
)

// Volume is a mounted FAT16/FAT32 volume.
type Volume struct {
	dev   *blockio.Device
	boot  *bootrec.BootSector
	table *fat.Table
	io    *clusterio.Stream
	flags skfs.MountFlags

	// rootDirOffset/rootDirSize describe the FAT16 fixed-position root
	// directory region; both are zero on FAT32, where the root directory is
	// an ordinary cluster chain starting at boot.RootCluster.
	rootDirOffset int64
	rootDirSize   int64
}

// Mount opens path as a FAT16/FAT32 volume and decodes its boot sector.
func Mount(path string, flags skfs.MountFlags) (*Volume, error) {
	dev, err := blockio.Open(path, false, 0)
	if err != nil {
		return nil, err
	}
	return mountDevice(dev, flags)
}

// MountMemory mounts an in-memory image, for tests and RAM-backed volumes.
func MountMemory(buf []byte, flags skfs.MountFlags) (*Volume, error) {
	return mountDevice(blockio.NewMemory(buf), flags)
}

func mountDevice(dev *blockio.Device, flags skfs.MountFlags) (*Volume, error) {
	boot, err := bootrec.Decode(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	table := fat.New(dev, uint32(boot.ReservedSectors), uint32(boot.BytesPerSector),
		boot.FATSizeInSectors, boot.NumFATs, boot.TotalClusters)
	if _, err := table.RescanFree(); err != nil {
		dev.Close()
		return nil, err
	}

	stream := clusterio.New(dev, table, boot.DataStartSector, uint32(boot.BytesPerSector),
		uint32(boot.SectorsPerCluster))

	v := &Volume{dev: dev, boot: boot, table: table, io: stream, flags: flags}

	if boot.FATVersion == 16 {
		v.rootDirOffset = int64(boot.DataStartSector-boot.RootDirSectors) * int64(boot.BytesPerSector)
		v.rootDirSize = int64(boot.RootDirSectors) * int64(boot.BytesPerSector)
	}

	return v, nil
}

// Teardown flushes the FSInfo free-cluster/last-allocation counters (spec.md
// §2) and releases the underlying device.
func (v *Volume) Teardown() error {
	info := bootrec.FSInfo{NumFreeClusters: v.table.FreeCount(), LastAlloc: v.table.LastAlloc()}
	if err := bootrec.WriteFSInfo(v.dev, info); err != nil {
		v.dev.Close()
		return err
	}
	return v.dev.Close()
}

// dirSlot is one decoded 32-byte directory entry region, either a short-name
// entry (isLong == false) or an LFN continuation.
type dirSlot struct {
	raw      dirent.Raw
	isLong   bool
	longRaw  dirent.LongRaw
	byteOff  int64
}

// readRootFAT16 returns every 32-byte slot of the fixed-position root
// directory.
func (v *Volume) readRootFAT16() ([]dirSlot, error) {
	n := int(v.rootDirSize) / dirent.RawSize
	slots := make([]dirSlot, 0, n)
	for i := 0; i < n; i++ {
		off := v.rootDirOffset + int64(i*dirent.RawSize)
		buf := make([]byte, dirent.RawSize)
		if err := v.dev.ReadAt(buf, off); err != nil {
			return nil, err
		}
		slots = append(slots, decodeSlot(buf, off))
	}
	return slots, nil
}

// readDirChain returns every 32-byte slot of the cluster-chain directory
// starting at head (FAT32 root, or any subdirectory on either version).
func (v *Volume) readDirChain(head uint32) ([]dirSlot, error) {
	chain, err := v.io.Chain(head)
	if err != nil {
		return nil, err
	}
	var slots []dirSlot
	perCluster := int(v.io.BytesPerCluster()) / dirent.RawSize
	for _, c := range chain {
		clusterOff := v.io.ClusterOffset(c)
		for i := 0; i < perCluster; i++ {
			off := clusterOff + int64(i*dirent.RawSize)
			buf := make([]byte, dirent.RawSize)
			if err := v.dev.ReadAt(buf, off); err != nil {
				return nil, err
			}
			slots = append(slots, decodeSlot(buf, off))
		}
	}
	return slots, nil
}

func decodeSlot(buf []byte, off int64) dirSlot {
	attr := buf[11]
	if dirent.IsLongNameSlot(attr) {
		return dirSlot{isLong: true, longRaw: dirent.DecodeLongRaw(buf), byteOff: off}
	}
	return dirSlot{raw: dirent.DecodeRaw(buf), byteOff: off}
}

// entries groups raw slots into resolved Entry values, pairing each
// short-name entry with any immediately preceding LFN run.
func entries(slots []dirSlot) []dirent.Entry {
	var out []dirent.Entry
	var pendingLFN []dirent.LongRaw

	for _, s := range slots {
		if s.raw.Name[0] == dirent.MarkerFree && !s.isLong {
			break
		}
		if s.isLong {
			pendingLFN = append(pendingLFN, s.longRaw)
			continue
		}
		if s.raw.Name[0] == dirent.MarkerDeleted {
			pendingLFN = nil
			continue
		}
		if s.raw.Attr&skfs.AttrVolumeLabel != 0 {
			pendingLFN = nil
			continue
		}

		e := dirent.Entry{
			ShortName:     dirent.RepairDeletedFirstByte(s.raw.Name),
			Attr:          s.raw.Attr,
			ClusterOrSlot: s.raw.ClusterOrSlot(),
			Size:          s.raw.FileSize,
			ModTime:       fatTimeToGo(s.raw.ModDate, s.raw.ModTime),
		}
		if len(pendingLFN) > 0 {
			e.LongName = dirent.DecodeLongName(pendingLFN)
		}
		out = append(out, e)
		pendingLFN = nil
	}
	return out
}

func fatTimeToGo(date, t uint16) time.Time {
	year := int(date>>9) + 1980
	month := int((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int(t >> 11)
	min := int((t >> 5) & 0x3F)
	sec := int(t&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

func displayName(e dirent.Entry) string {
	if e.LongName != "" {
		return e.LongName
	}
	base := strings.TrimRight(string(e.ShortName[0:8]), " ")
	ext := strings.TrimRight(string(e.ShortName[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// rootSlots returns every slot of the root directory: the fixed-position
// region on FAT16, or the cluster chain starting at RootCluster on FAT32.
func (v *Volume) rootSlots() ([]dirSlot, error) {
	if v.boot.FATVersion == 16 {
		return v.readRootFAT16()
	}
	return v.readDirChain(v.boot.RootCluster)
}

// Readdir lists the entries of the directory at path ("/" for the root).
func (v *Volume) Readdir(path string) ([]dirent.Entry, error) {
	_, slots, err := v.resolveDir(path)
	if err != nil {
		return nil, err
	}
	return entries(slots), nil
}

// resolveDir walks path, returning the cluster head of the final directory
// (0 if it is the FAT16 fixed root) and its decoded slots.
func (v *Volume) resolveDir(path string) (uint32, []dirSlot, error) {
	parts := splitPath(path)

	slots, err := v.rootSlots()
	if err != nil {
		return 0, nil, err
	}
	var head uint32
	if v.boot.FATVersion == 32 {
		// FAT32 has no fixed-position root directory; it is an ordinary
		// extensible cluster chain, unlike the FAT16 case where head stays 0
		// to signal "this directory cannot grow".
		head = v.boot.RootCluster
	}

	for _, part := range parts {
		ent, found := findEntry(slots, part)
		if !found {
			return 0, nil, skfs.ErrNoSuchPath(path)
		}
		if !dirent.IsDirectory(ent.Attr) {
			return 0, nil, skfs.ErrNotADirectory(part)
		}
		head = ent.ClusterOrSlot
		slots, err = v.readDirChain(head)
		if err != nil {
			return 0, nil, err
		}
	}

	return head, slots, nil
}

// resolveFile locates the file at path, returning its parent directory's
// cluster head, the decoded entry, and the byte offset of its short-name
// slot (for in-place updates such as size/cluster rewrites).
func (v *Volume) resolveFile(path string) (parentHead uint32, ent dirent.Entry, slotOffset int64, err error) {
	dirPath, name := splitParent(path)
	parentHead, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return 0, dirent.Entry{}, 0, err
	}

	for i, s := range slots {
		if s.isLong || s.raw.Name[0] == dirent.MarkerFree || s.raw.Name[0] == dirent.MarkerDeleted {
			continue
		}
		e := decodeOne(slots, i)
		if strings.EqualFold(displayName(e), name) {
			return parentHead, e, s.byteOff, nil
		}
	}
	return 0, dirent.Entry{}, 0, skfs.ErrNoSuchPath(path)
}

// decodeOne resolves the entry ending at slots[idx] using any LFN slots
// immediately preceding it.
func decodeOne(slots []dirSlot, idx int) dirent.Entry {
	s := slots[idx]
	e := dirent.Entry{
		ShortName:     dirent.RepairDeletedFirstByte(s.raw.Name),
		Attr:          s.raw.Attr,
		ClusterOrSlot: s.raw.ClusterOrSlot(),
		Size:          s.raw.FileSize,
		ModTime:       fatTimeToGo(s.raw.ModDate, s.raw.ModTime),
	}
	var pendingLFN []dirent.LongRaw
	for j := idx - 1; j >= 0 && slots[j].isLong; j-- {
		pendingLFN = append(pendingLFN, slots[j].longRaw)
	}
	if len(pendingLFN) > 0 {
		// pendingLFN was collected lowest-ordinal-first by the backward
		// scan; DecodeLongName wants physical (highest-ordinal-first) order.
		for i, j := 0, len(pendingLFN)-1; i < j; i, j = i+1, j-1 {
			pendingLFN[i], pendingLFN[j] = pendingLFN[j], pendingLFN[i]
		}
		e.LongName = dirent.DecodeLongName(pendingLFN)
	}
	return e
}

func findEntry(slots []dirSlot, name string) (dirent.Entry, bool) {
	for _, e := range entries(slots) {
		if strings.EqualFold(displayName(e), name) {
			return e, true
		}
	}
	return dirent.Entry{}, false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func splitParent(path string) (dir, name string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/", ""
	}
	if len(parts) == 1 {
		return "/", parts[0]
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
}

// ReadFile reads the full contents of the file at path.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	if !v.flags.CanRead() {
		return nil, skfs.ErrNotSupported("read")
	}
	_, ent, _, err := v.resolveFile(path)
	if err != nil {
		return nil, err
	}
	if dirent.IsDirectory(ent.Attr) {
		return nil, skfs.ErrIsADirectory(path)
	}
	buf := make([]byte, ent.Size)
	n, err := v.io.ReadFile(ent.ClusterOrSlot, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Stat returns metadata for the entry at path.
func (v *Volume) Stat(path string) (skfs.FileStat, error) {
	_, ent, _, err := v.resolveFile(path)
	if err != nil {
		return skfs.FileStat{}, err
	}
	return skfs.FileStat{
		ModeFlags:  fatModeToGo(ent.Attr),
		Size:       int64(ent.Size),
		BlockSize:  int64(v.io.BytesPerCluster()),
		ModifiedAt: ent.ModTime,
	}, nil
}

func fatModeToGo(attr uint8) os.FileMode {
	var mode os.FileMode
	if dirent.IsDirectory(attr) {
		mode |= os.ModeDir
	}
	if attr&skfs.AttrReadOnly != 0 {
		mode |= 0o444
	} else {
		mode |= 0o644
	}
	return mode
}

// WriteFile creates (or overwrites) the file at path with the given
// contents, following original_source/skinny28.c's skinny28_write for the
// allocate/extend/update-size sequence (minus the version push, which is
// fatfs's Skinny28 derivative's job, not this engine's).
func (v *Volume) WriteFile(path string, data []byte) error {
	if !v.flags.CanWrite() {
		return skfs.ErrNotSupported("write")
	}

	parentHead, ent, slotOff, err := v.resolveFile(path)
	if err == nil {
		if dirent.IsDirectory(ent.Attr) {
			return skfs.ErrIsADirectory(path)
		}
		newHead, err := v.io.Truncate(ent.ClusterOrSlot, 0)
		if err != nil {
			return err
		}
		newHead, _, err = v.io.WriteFile(newHead, 0, data)
		if err != nil {
			return err
		}
		return v.updateEntrySize(slotOff, newHead, uint32(len(data)))
	}

	_ = parentHead
	return v.createFile(path, data, skfs.AttrArchive)
}

// AppendFile writes data onto the end of the existing file at path, extending
// its cluster chain in place rather than truncating and rewriting from the
// start, per spec.md §8 scenario S2 (echoa).
func (v *Volume) AppendFile(path string, data []byte) error {
	if !v.flags.CanWrite() {
		return skfs.ErrNotSupported("append")
	}
	_, ent, slotOff, err := v.resolveFile(path)
	if err != nil {
		return err
	}
	if dirent.IsDirectory(ent.Attr) {
		return skfs.ErrIsADirectory(path)
	}
	newHead, _, err := v.io.WriteFile(ent.ClusterOrSlot, int64(ent.Size), data)
	if err != nil {
		return err
	}
	return v.updateEntrySize(slotOff, newHead, ent.Size+uint32(len(data)))
}

func (v *Volume) updateEntrySize(slotOff int64, newHead uint32, size uint32) error {
	buf := make([]byte, dirent.RawSize)
	if err := v.dev.ReadAt(buf, slotOff); err != nil {
		return err
	}
	raw := dirent.DecodeRaw(buf)
	raw.SetClusterOrSlot(newHead)
	raw.FileSize = size
	_, err := v.dev.WriteAt(raw.Encode(), slotOff)
	return err
}

// createFile appends a new short-name (+ LFN run, if needed) directory entry
// to path's parent directory and writes data into a freshly allocated chain.
func (v *Volume) createFile(path string, data []byte, attr uint8) error {
	if !v.flags.CanInsert() {
		return skfs.ErrNotSupported("create")
	}
	dirPath, name := splitParent(path)
	parentHead, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return err
	}

	shortName := dirent.GenerateBasisName(name)
	var toWrite [][]byte
	if needsLFN(name, shortName) {
		for _, l := range dirent.BuildLongEntries(name, shortName) {
			toWrite = append(toWrite, l.Encode())
		}
	}
	raw := dirent.Raw{Name: shortName, Attr: attr}

	head, _, err := v.io.WriteFile(0, 0, data)
	if err != nil {
		return err
	}
	raw.SetClusterOrSlot(head)
	raw.FileSize = uint32(len(data))
	toWrite = append(toWrite, raw.Encode())

	return v.appendSlots(parentHead, dirPath, slots, toWrite)
}

func needsLFN(long string, short [11]byte) bool {
	base := strings.TrimRight(string(short[0:8]), " ")
	ext := strings.TrimRight(string(short[8:11]), " ")
	reconstructed := base
	if ext != "" {
		reconstructed += "." + ext
	}
	return !strings.EqualFold(reconstructed, long)
}

// appendSlots writes toWrite into the first run of free/deleted slots large
// enough to hold it, extending a cluster-chain directory if none is found,
// following spec.md §4.6 "directory growth" and §9's note that the fixed
// FAT16 root directory cannot grow.
func (v *Volume) appendSlots(head uint32, dirPath string, slots []dirSlot, toWrite [][]byte) error {
	need := len(toWrite)
	run := 0
	for i, s := range slots {
		if s.raw.Name[0] == dirent.MarkerFree || s.raw.Name[0] == dirent.MarkerDeleted {
			run++
			if run == need {
				start := i - need + 1
				for j, b := range toWrite {
					if _, err := v.dev.WriteAt(b, slots[start+j].byteOff); err != nil {
						return err
					}
				}
				return nil
			}
		} else {
			run = 0
		}
	}

	if head == 0 {
		return skfs.ErrDirectoryFull(dirPath)
	}

	newHead, last, err := v.io.WriteFile(head, int64(len(slots))*int64(dirent.RawSize), make([]byte, need*dirent.RawSize))
	_ = newHead
	_ = last
	if err != nil {
		return err
	}
	newSlots, err := v.readDirChain(head)
	if err != nil {
		return err
	}
	for j, b := range toWrite {
		if _, err := v.dev.WriteAt(b, newSlots[len(slots)+j].byteOff); err != nil {
			return err
		}
	}
	return nil
}

// Mkdir creates an empty subdirectory at path. The new directory's first
// cluster is written up front with "." and ".." entries, per spec.md §4.4,
// so path resolution can walk through them like any other directory entry;
// passing that non-empty buffer through WriteFile is also what makes the
// cluster allocation happen at all — an empty/nil buffer never allocates.
func (v *Volume) Mkdir(path string) error {
	if !v.flags.CanInsert() {
		return skfs.ErrNotSupported("mkdir")
	}
	dirPath, name := splitParent(path)
	parentHead, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return err
	}

	buf := make([]byte, v.io.BytesPerCluster())
	dot, dotdot := dirent.DotEntries(0, parentHead, skfs.AttrDirectory)
	copy(buf[0:dirent.RawSize], dot.Encode())
	copy(buf[dirent.RawSize:2*dirent.RawSize], dotdot.Encode())

	head, _, err := v.io.WriteFile(0, 0, buf)
	if err != nil {
		return err
	}

	// "." names its own cluster, which wasn't known until WriteFile
	// allocated it; patch the slot already written to disk.
	dot.SetClusterOrSlot(head)
	if _, err := v.dev.WriteAt(dot.Encode(), v.io.ClusterOffset(head)); err != nil {
		return err
	}

	shortName := dirent.GenerateBasisName(name)
	var toWrite [][]byte
	if needsLFN(name, shortName) {
		for _, l := range dirent.BuildLongEntries(name, shortName) {
			toWrite = append(toWrite, l.Encode())
		}
	}
	raw := dirent.Raw{Name: shortName, Attr: skfs.AttrDirectory}
	raw.SetClusterOrSlot(head)
	toWrite = append(toWrite, raw.Encode())

	return v.appendSlots(parentHead, dirPath, slots, toWrite)
}

// Remove deletes the file or empty directory at path, following
// original_source/skinny28.c's skinny28_deletefile: walk backward from the
// short-name slot marking 0xE5 until the slot that is not an LFN
// continuation of this entry.
func (v *Volume) Remove(path string) error {
	if !v.flags.CanDelete() {
		return skfs.ErrNotSupported("remove")
	}
	dirPath, name := splitParent(path)
	_, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return err
	}

	for i, s := range slots {
		if s.isLong || s.raw.Name[0] == dirent.MarkerFree || s.raw.Name[0] == dirent.MarkerDeleted {
			continue
		}
		e := decodeOne(slots, i)
		if !strings.EqualFold(displayName(e), name) {
			continue
		}
		if dirent.IsDirectory(e.Attr) {
			sub, err := v.readDirChain(e.ClusterOrSlot)
			if err != nil {
				return err
			}
			for _, se := range entries(sub) {
				if n := displayName(se); n != "." && n != ".." {
					return skfs.NewDriverErrorWithMessage(0, "directory not empty")
				}
			}
		}
		if err := v.io.FreeChain(e.ClusterOrSlot); err != nil {
			return err
		}
		j := i
		for j >= 0 {
			deleted := markDeleted(slots[j].raw)
			if _, err := v.dev.WriteAt(deleted.Encode(), slots[j].byteOff); err != nil {
				return err
			}
			if j == i {
				j--
				break
			}
			j--
		}
		for j >= 0 && slots[j].isLong {
			buf := make([]byte, dirent.RawSize)
			buf[0] = dirent.MarkerDeleted
			if _, err := v.dev.WriteAt(buf, slots[j].byteOff); err != nil {
				return err
			}
			j--
		}
		return nil
	}
	return skfs.ErrNoSuchPath(path)
}

func markDeleted(r dirent.Raw) dirent.Raw {
	r.Name[0] = dirent.MarkerDeleted
	return r
}

// Table exposes the FAT table for callers that need direct access (e.g. the
// Skinny28 engine, which shares this volume's allocator).
func (v *Volume) Table() *fat.Table { return v.table }

// Stream exposes the cluster-chain stream for callers in the same position.
func (v *Volume) Stream() *clusterio.Stream { return v.io }

// Boot exposes the decoded boot sector.
func (v *Volume) Boot() *bootrec.BootSector { return v.boot }

// Device exposes the underlying block device.
func (v *Volume) Device() *blockio.Device { return v.dev }
