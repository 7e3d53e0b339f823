// Package geometry provides the volume-size-to-cluster-size lookup tables
// used by the formatter (cmd/mkfs), following github.com/dargueta/disko's
// disks/disks.go pattern of an embedded CSV string unmarshaled with
// github.com/gocarina/gocsv rather than a hand-written switch statement.
//
// The concrete size breakpoints are grounded on
// original_source/skinny28.c's DskTable (a 6-entry table keyed on partition
// size in sectors, the only such table present in the retrieved sources;
// mkfs.c references DskTableFAT16/DskTableFAT32 by name but their contents
// were not present in the files retrieved for this spec, see DESIGN.md). The
// FAT32 breakpoints beyond DskTable's range extend its last entry using the
// standard Microsoft FAT32 volume/cluster-size convention.
package geometry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

// clusterSizeCSV lists, for FAT32, the maximum volume size (in bytes) for
// which a given sectors-per-cluster value applies. The final row (MaxBytes
// "0") is the catch-all for volumes larger than every named breakpoint.
const clusterSizeCSV = `MaxBytes,SectorsPerCluster
34078720,0
268435456,1
8589934592,8
17179869184,16
34359738368,32
0,64
`

type clusterSizeRow struct {
	MaxBytes          uint64 `csv:"MaxBytes"`
	SectorsPerCluster uint8  `csv:"SectorsPerCluster"`
}

var clusterSizeTable []clusterSizeRow

func init() {
	if err := gocsv.UnmarshalString(clusterSizeCSV, &clusterSizeTable); err != nil {
		panic(err)
	}
	sort.Slice(clusterSizeTable, func(i, j int) bool {
		if clusterSizeTable[i].MaxBytes == 0 {
			return false
		}
		if clusterSizeTable[j].MaxBytes == 0 {
			return true
		}
		return clusterSizeTable[i].MaxBytes < clusterSizeTable[j].MaxBytes
	})
}

// SectorsPerClusterFor returns the recommended sectors-per-cluster value for
// a volume of the given size in bytes, following the breakpoint convention
// recorded above. A SectorsPerCluster of 0 in the table (the smallest
// breakpoint) is never returned to the caller; it exists to document that
// original_source/skinny28.c's DskTable reserves size 0 for "unformattable".
func SectorsPerClusterFor(volumeBytes uint64) uint8 {
	for _, row := range clusterSizeTable {
		if row.SectorsPerCluster == 0 {
			continue
		}
		if row.MaxBytes == 0 || volumeBytes <= row.MaxBytes {
			return row.SectorsPerCluster
		}
	}
	return 64
}

// ParseSize parses a human size string with an optional K/M/G suffix into a
// byte count, following original_source/mkfs.c's parse_size.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &ParseError{Input: s}
		}
		n = n*10 + uint64(c-'0')
	}
	return n * mult, nil
}

// ParseError reports an unparsable size string.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("geometry: invalid size %q", e.Input)
}
