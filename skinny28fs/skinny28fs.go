// Package skinny28fs implements component C8: the Skinny28 engine, a
// FAT32-layout derivative in which every file's directory entry cluster
// field is repurposed as an index into a per-volume version table (package
// internal/version), giving each file up to four retained historical
// cluster-chain heads.
//
// Grounded on original_source/skinny28.c in full: skinny28_init (mount),
// skinny28_createfile/skinny28_openfile/skinny28_write/skinny28_writedata
// (allocate-and-push-revision on write), skinny28_readfile, skinny28_readdir,
// skinny28_deletefile, skinny28_getrevision/skinny28_revert/
// skinny28_printrevision, and skinny28.h's skinny_vers_t. Directory scanning
// and path resolution reuse the same on-disk dirent layout as package fatfs,
// built on github.com/dargueta/disko's driverbase.go resolvePathToDirent.
package skinny28fs

import (
	"strings"
	"time"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
	"github.com/kvnallsn/skfs/internal/bootrec"
	"github.com/kvnallsn/skfs/internal/clusterio"
	"github.com/kvnallsn/skfs/internal/dirent"
	"github.com/kvnallsn/skfs/internal/fat"
	"github.com/kvnallsn/skfs/internal/version"
)

// Volume is a mounted Skinny28 volume.
type Volume struct {
	dev    *blockio.Device
	boot   *bootrec.BootSector
	table  *fat.Table
	io     *clusterio.Stream
	vtable *version.Table
	flags  skfs.MountFlags
}

// Mount opens path as a Skinny28 volume.
func Mount(path string, flags skfs.MountFlags) (*Volume, error) {
	dev, err := blockio.Open(path, false, 0)
	if err != nil {
		return nil, err
	}
	return mountDevice(dev, flags)
}

// MountMemory mounts an in-memory image, for tests.
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

	// spec.md Skinny28 §3: the BPB's root_entry_count field is repurposed to
	// hold the cluster number of the version table, following
	// original_source/skinny28.c's skinny28_init reading mount_t.vers_table
	// from exactly this field.
	versionTableCluster := uint32(boot.RootEntryCount)
	versionTableOffset := stream.ClusterOffset(versionTableCluster)
	capacity := int(stream.BytesPerCluster()) / version.RecordSize
	vtable := version.New(dev, versionTableOffset, capacity)

	return &Volume{dev: dev, boot: boot, table: table, io: stream, vtable: vtable, flags: flags}, nil
}

// Teardown flushes the FSInfo free-cluster/last-allocation counters and
// releases the underlying device.
func (v *Volume) Teardown() error {
	info := bootrec.FSInfo{NumFreeClusters: v.table.FreeCount(), LastAlloc: v.table.LastAlloc()}
	if err := bootrec.WriteFSInfo(v.dev, info); err != nil {
		v.dev.Close()
		return err
	}
	return v.dev.Close()
}

type dirSlot struct {
	raw     dirent.Raw
	isLong  bool
	longRaw dirent.LongRaw
	byteOff int64
}

func decodeSlot(buf []byte, off int64) dirSlot {
	attr := buf[11]
	if dirent.IsLongNameSlot(attr) {
		return dirSlot{isLong: true, longRaw: dirent.DecodeLongRaw(buf), byteOff: off}
	}
	return dirSlot{raw: dirent.DecodeRaw(buf), byteOff: off}
}

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
	for i, j := 0, len(pendingLFN)-1; i < j; i, j = i+1, j-1 {
		pendingLFN[i], pendingLFN[j] = pendingLFN[j], pendingLFN[i]
	}
	if len(pendingLFN) > 0 {
		e.LongName = dirent.DecodeLongName(pendingLFN)
	}
	return e
}

func entries(slots []dirSlot) []dirent.Entry {
	var out []dirent.Entry
	for i, s := range slots {
		if s.isLong {
			continue
		}
		if s.raw.Name[0] == dirent.MarkerFree {
			break
		}
		if s.raw.Name[0] == dirent.MarkerDeleted {
			continue
		}
		if s.raw.Attr&skfs.AttrVolumeLabel != 0 {
			continue
		}
		out = append(out, decodeOne(slots, i))
	}
	return out
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

func (v *Volume) resolveDir(path string) (uint32, []dirSlot, error) {
	parts := splitPath(path)
	slots, err := v.readDirChain(v.boot.RootCluster)
	if err != nil {
		return 0, nil, err
	}
	var head uint32 = v.boot.RootCluster

	for _, part := range parts {
		found := false
		for _, e := range entries(slots) {
			if strings.EqualFold(displayName(e), part) {
				if !dirent.IsDirectory(e.Attr) {
					return 0, nil, skfs.ErrNotADirectory(part)
				}
				// Directories store a real cluster number, not a version
				// slot: version history is a per-file concept, per spec.md
				// Skinny28 §3.
				head = e.ClusterOrSlot
				found = true
				break
			}
		}
		if !found {
			return 0, nil, skfs.ErrNoSuchPath(path)
		}
		slots, err = v.readDirChain(head)
		if err != nil {
			return 0, nil, err
		}
	}
	return head, slots, nil
}

// fileLocation pairs a resolved file entry with its slot index and the
// version-table slot its directory entry names.
type fileLocation struct {
	parentHead uint32
	slots      []dirSlot
	slotIndex  int
	entry      dirent.Entry
	versSlot   int
}

func (v *Volume) resolveFile(path string) (fileLocation, error) {
	dirPath, name := splitParent(path)
	parentHead, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return fileLocation{}, err
	}
	for i, s := range slots {
		if s.isLong || s.raw.Name[0] == dirent.MarkerFree || s.raw.Name[0] == dirent.MarkerDeleted {
			continue
		}
		e := decodeOne(slots, i)
		if strings.EqualFold(displayName(e), name) {
			if dirent.IsDirectory(e.Attr) {
				return fileLocation{}, skfs.ErrIsADirectory(path)
			}
			return fileLocation{parentHead: parentHead, slots: slots, slotIndex: i, entry: e, versSlot: int(e.ClusterOrSlot)}, nil
		}
	}
	return fileLocation{}, skfs.ErrNoSuchPath(path)
}

// Readdir lists the entries of the directory at path.
func (v *Volume) Readdir(path string) ([]dirent.Entry, error) {
	_, slots, err := v.resolveDir(path)
	if err != nil {
		return nil, err
	}
	return entries(slots), nil
}

// ReadFile reads the current revision of the file at path, following
// original_source/skinny28.c's skinny28_readfile (resolve vcurr, then read
// the chain).
func (v *Volume) ReadFile(path string) ([]byte, error) {
	if !v.flags.CanRead() {
		return nil, skfs.ErrNotSupported("read")
	}
	loc, err := v.resolveFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := v.vtable.Get(loc.versSlot)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, loc.entry.Size)
	n, err := v.io.ReadFile(rec.Vcurr, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ReadRevision reads historical revision n (1, 2, or 3) of the file at path,
// following original_source/skinny28.c's skinny28_printrevision, which reads
// through the named revision's cluster head without mutating the version
// record.
func (v *Volume) ReadRevision(path string, n int) ([]byte, error) {
	loc, err := v.resolveFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := v.vtable.Get(loc.versSlot)
	if err != nil {
		return nil, err
	}
	head := rec.At(n)
	if head == 0 {
		return nil, skfs.ErrBadRevision(n)
	}
	chain, err := v.io.Chain(head)
	if err != nil {
		return nil, err
	}
	var out []byte
	buf := make([]byte, v.io.BytesPerCluster())
	for _, c := range chain {
		if err := v.dev.ReadAt(buf, v.io.ClusterOffset(c)); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out, nil
}

// WriteFile writes new contents for the file at path, allocating a fresh
// cluster chain and pushing the previous chain head into the version table
// as the newest retained revision, following
// original_source/skinny28.c's skinny28_write. The order is: allocate and
// write the new chain, insert_revision with its head, then update the
// directory entry's size.
func (v *Volume) WriteFile(path string, data []byte) error {
	if !v.flags.CanWrite() {
		return skfs.ErrNotSupported("write")
	}

	loc, err := v.resolveFile(path)
	if err == nil {
		newHead, _, werr := v.io.WriteFile(0, 0, data)
		if werr != nil {
			return werr
		}
		if err := v.vtable.InsertRevision(loc.versSlot, newHead); err != nil {
			return err
		}
		return v.updateEntrySize(loc.slots[loc.slotIndex].byteOff, uint32(len(data)))
	}

	return v.createFile(path, data)
}

// AppendFile extends the current revision's cluster chain in place without
// pushing a new version-table entry: appending is not a distinct write event
// under Skinny28's revision model, it continues the revision already
// current, following original_source/shell.c's echoa (fileopen(path, APPEND)
// against the same underlying write path as echo's BEGIN mode, not a fresh
// createfile/insert_revision cycle).
func (v *Volume) AppendFile(path string, data []byte) error {
	if !v.flags.CanWrite() {
		return skfs.ErrNotSupported("append")
	}
	loc, err := v.resolveFile(path)
	if err != nil {
		return err
	}
	rec, err := v.vtable.Get(loc.versSlot)
	if err != nil {
		return err
	}
	newHead, _, err := v.io.WriteFile(rec.Vcurr, int64(loc.entry.Size), data)
	if err != nil {
		return err
	}
	if newHead != rec.Vcurr {
		rec.Vcurr = newHead
		if err := v.vtable.Put(loc.versSlot, rec); err != nil {
			return err
		}
	}
	return v.updateEntrySize(loc.slots[loc.slotIndex].byteOff, loc.entry.Size+uint32(len(data)))
}

func (v *Volume) updateEntrySize(slotOff int64, size uint32) error {
	buf := make([]byte, dirent.RawSize)
	if err := v.dev.ReadAt(buf, slotOff); err != nil {
		return err
	}
	raw := dirent.DecodeRaw(buf)
	raw.FileSize = size
	_, err := v.dev.WriteAt(raw.Encode(), slotOff)
	return err
}

// createFile allocates a version-table slot and a data chain for a brand new
// file, following original_source/skinny28.c's skinny28_createfile.
func (v *Volume) createFile(path string, data []byte) error {
	if !v.flags.CanInsert() {
		return skfs.ErrNotSupported("create")
	}
	dirPath, name := splitParent(path)
	parentHead, slots, err := v.resolveDir(dirPath)
	if err != nil {
		return err
	}

	versSlot, err := v.vtable.FindOpenSlot()
	if err != nil {
		return err
	}

	head, _, err := v.io.WriteFile(0, 0, data)
	if err != nil {
		return err
	}
	if err := v.vtable.InsertRevision(versSlot, head); err != nil {
		return err
	}

	shortName := dirent.GenerateBasisName(name)
	var toWrite [][]byte
	if needsLFN(name, shortName) {
		for _, l := range dirent.BuildLongEntries(name, shortName) {
			toWrite = append(toWrite, l.Encode())
		}
	}
	raw := dirent.Raw{Name: shortName, Attr: skfs.AttrArchive, FileSize: uint32(len(data))}
	raw.SetClusterOrSlot(uint32(versSlot))
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
	if _, _, err := v.io.WriteFile(head, int64(len(slots))*int64(dirent.RawSize), make([]byte, need*dirent.RawSize)); err != nil {
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

// Mkdir creates an empty subdirectory at path. Directories never carry
// version history, so this delegates straight to a real cluster allocation
// rather than the version table; the new cluster is written up front with
// "." and ".." entries, per spec.md §4.4, and writing that non-empty buffer
// through WriteFile is what actually triggers cluster allocation.
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

// Remove deletes the file at path along with its version table slot and
// every retained cluster chain, following
// original_source/skinny28.c's skinny28_deletefile.
func (v *Volume) Remove(path string) error {
	if !v.flags.CanDelete() {
		return skfs.ErrNotSupported("remove")
	}
	loc, err := v.resolveFile(path)
	if err != nil {
		return err
	}

	rec, err := v.vtable.Get(loc.versSlot)
	if err != nil {
		return err
	}
	for _, head := range []uint32{rec.Vcurr, rec.V1, rec.V2, rec.V3} {
		if head != 0 {
			if err := v.io.FreeChain(head); err != nil {
				return err
			}
		}
	}
	if err := v.vtable.Delete(loc.versSlot); err != nil {
		return err
	}

	j := loc.slotIndex
	for j >= 0 {
		if j != loc.slotIndex && !loc.slots[j].isLong {
			break
		}
		buf := make([]byte, dirent.RawSize)
		buf[0] = dirent.MarkerDeleted
		if _, err := v.dev.WriteAt(buf, loc.slots[j].byteOff); err != nil {
			return err
		}
		j--
	}
	return nil
}

// GetRevision reports which of the 4 retained revisions are populated for
// the file at path, following original_source/skinny28.c's
// skinny28_getrevision.
func (v *Volume) GetRevision(path string) (version.Record, error) {
	loc, err := v.resolveFile(path)
	if err != nil {
		return version.Record{}, err
	}
	return v.vtable.Get(loc.versSlot)
}

// Revert restores revision n (1, 2, or 3) as the file's current data,
// following original_source/skinny28.c's revert_to_revision, with its
// case-3 corruption and case-2 fallthrough fixed per internal/version.
func (v *Volume) Revert(path string, n int) error {
	if !v.flags.CanWrite() {
		return skfs.ErrNotSupported("revert")
	}
	loc, err := v.resolveFile(path)
	if err != nil {
		return err
	}
	if err := v.vtable.RevertTo(loc.versSlot, n); err != nil {
		return err
	}
	rec, err := v.vtable.Get(loc.versSlot)
	if err != nil {
		return err
	}
	size, err := v.chainByteLength(rec.Vcurr)
	if err != nil {
		return err
	}
	return v.updateEntrySize(loc.slots[loc.slotIndex].byteOff, size)
}

func (v *Volume) chainByteLength(head uint32) (uint32, error) {
	chain, err := v.io.Chain(head)
	if err != nil {
		return 0, err
	}
	return uint32(len(chain)) * v.io.BytesPerCluster(), nil
}

// Table exposes the FAT table.
func (v *Volume) Table() *fat.Table { return v.table }

// VersionTable exposes the version table.
func (v *Volume) VersionTable() *version.Table { return v.vtable }

// Boot exposes the decoded boot sector.
func (v *Volume) Boot() *bootrec.BootSector { return v.boot }
