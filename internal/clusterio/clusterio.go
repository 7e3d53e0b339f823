// Package clusterio implements component C5: cluster-chain walking and
// clipped, chain-extending reads and writes.
//
// Grounded on github.com/dargueta/disko's drivers/common/clusterio.go
// (ClusterStream, ClusterIDToBlock, bounds-checked Read/Write) and
// original_source/skinny28.c's skinny28_readfile/skinny28_writedata for the
// allocate-on-extend write loop and EOC termination.
package clusterio

import (
	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/blockio"
	"github.com/kvnallsn/skfs/internal/fat"
)

// Stream reads and writes the byte contents addressed by a cluster chain.
type Stream struct {
	dev             *blockio.Device
	table           *fat.Table
	dataStartSector uint32
	bytesPerSector  uint32
	sectorsPerClu   uint32
	bytesPerCluster uint32
}

// New creates a Stream over dev's data region, using table for chain
// traversal and allocation.
func New(dev *blockio.Device, table *fat.Table, dataStartSector, bytesPerSector, sectorsPerCluster uint32) *Stream {
	return &Stream{
		dev:             dev,
		table:           table,
		dataStartSector: dataStartSector,
		bytesPerSector:  bytesPerSector,
		sectorsPerClu:   sectorsPerCluster,
		bytesPerCluster: bytesPerSector * sectorsPerCluster,
	}
}

// ClusterOffset returns the absolute byte offset of cluster c's first byte,
// following github.com/dargueta/disko's ClusterIDToBlock.
func (s *Stream) ClusterOffset(c uint32) int64 {
	sector := s.dataStartSector + (c-2)*s.sectorsPerClu
	return int64(sector) * int64(s.bytesPerSector)
}

// BytesPerCluster returns the number of data bytes addressed by one cluster.
func (s *Stream) BytesPerCluster() uint32 { return s.bytesPerCluster }

// Chain walks the cluster chain starting at head, returning every cluster
// number visited in order. It stops at the first end-of-chain marker.
func (s *Stream) Chain(head uint32) ([]uint32, error) {
	var chain []uint32
	c := head
	for {
		if c == 0 {
			break
		}
		chain = append(chain, c)
		next, err := s.table.Get(c)
		if err != nil {
			return nil, err
		}
		if fat.IsEndOfChain(next) {
			break
		}
		c = next
	}
	return chain, nil
}

// ReadFile reads up to len(buf) bytes starting at byte offset off within the
// file whose data starts at cluster head, returning the number of bytes
// actually read (fewer than len(buf) at end-of-file).
func (s *Stream) ReadFile(head uint32, off int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	chain, err := s.Chain(head)
	if err != nil {
		return 0, err
	}

	startClusterIdx := int(off / int64(s.bytesPerCluster))
	if startClusterIdx >= len(chain) {
		return 0, nil
	}

	read := 0
	offsetInCluster := off % int64(s.bytesPerCluster)
	for ci := startClusterIdx; ci < len(chain) && read < len(buf); ci++ {
		clusterOff := s.ClusterOffset(chain[ci]) + offsetInCluster
		n := int(s.bytesPerCluster) - int(offsetInCluster)
		if remaining := len(buf) - read; n > remaining {
			n = remaining
		}
		if err := s.dev.ReadAt(buf[read:read+n], clusterOff); err != nil {
			return read, err
		}
		read += n
		offsetInCluster = 0
	}
	return read, nil
}

// WriteFile writes buf starting at byte offset off within the file whose
// data starts at cluster head, extending the chain with newly allocated
// clusters as needed. It returns the (possibly new) head cluster and the
// final cluster of the chain, for the caller to persist in the directory
// entry, following original_source/skinny28.c's skinny28_writedata.
func (s *Stream) WriteFile(head uint32, off int64, buf []byte) (newHead uint32, lastCluster uint32, err error) {
	if len(buf) == 0 {
		if head == 0 {
			return 0, 0, nil
		}
		last, chainErr := s.lastOf(head)
		return head, last, chainErr
	}

	if head == 0 {
		head, err = s.table.Allocate(0)
		if err != nil {
			return 0, 0, err
		}
	}

	chain, err := s.Chain(head)
	if err != nil {
		return 0, 0, err
	}

	targetClusterIdx := int(off / int64(s.bytesPerCluster))
	endByteIdx := off + int64(len(buf))
	targetEndClusterIdx := int((endByteIdx - 1) / int64(s.bytesPerCluster))

	for len(chain) <= targetEndClusterIdx {
		next, allocErr := s.table.Allocate(chain[len(chain)-1])
		if allocErr != nil {
			return head, chain[len(chain)-1], allocErr
		}
		if err := s.table.Put(chain[len(chain)-1], next); err != nil {
			return head, chain[len(chain)-1], err
		}
		chain = append(chain, next)
	}

	written := 0
	offsetInCluster := off % int64(s.bytesPerCluster)
	for ci := targetClusterIdx; ci < len(chain) && written < len(buf); ci++ {
		clusterOff := s.ClusterOffset(chain[ci]) + offsetInCluster
		n := int(s.bytesPerCluster) - int(offsetInCluster)
		if remaining := len(buf) - written; n > remaining {
			n = remaining
		}
		if _, err := s.dev.WriteAt(buf[written:written+n], clusterOff); err != nil {
			return head, chain[ci], err
		}
		written += n
		offsetInCluster = 0
	}

	return head, chain[len(chain)-1], nil
}

// FreeChain releases every cluster in the chain starting at head.
func (s *Stream) FreeChain(head uint32) error {
	chain, err := s.Chain(head)
	if err != nil {
		return err
	}
	for _, c := range chain {
		if err := s.table.Free(c); err != nil {
			return err
		}
	}
	return nil
}

// Truncate shortens the chain starting at head to newSize bytes, freeing any
// clusters beyond the new end and marking the new last cluster as EOC. A
// newSize of 0 frees the whole chain and returns head 0.
func (s *Stream) Truncate(head uint32, newSize int64) (newHead uint32, err error) {
	if head == 0 {
		return 0, nil
	}

	chain, err := s.Chain(head)
	if err != nil {
		return 0, err
	}

	if newSize <= 0 {
		if err := s.FreeChain(head); err != nil {
			return 0, err
		}
		return 0, nil
	}

	keep := int((newSize + int64(s.bytesPerCluster) - 1) / int64(s.bytesPerCluster))
	if keep >= len(chain) {
		return head, nil
	}

	for _, c := range chain[keep:] {
		if err := s.table.Free(c); err != nil {
			return 0, err
		}
	}
	if err := s.table.Put(chain[keep-1], fat.EOCMark); err != nil {
		return 0, err
	}
	return head, nil
}

func (s *Stream) lastOf(head uint32) (uint32, error) {
	chain, err := s.Chain(head)
	if err != nil {
		return 0, err
	}
	if len(chain) == 0 {
		return 0, skfs.ErrBadCluster(head)
	}
	return chain[len(chain)-1], nil
}
