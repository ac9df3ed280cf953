// Package testdisk creates fake partitioned images and collaborator
// fakes for tests. It uses sensible defaults for common scenarios.
package testdisk

import (
	"fmt"
	"os"

	"github.com/crosutil/factorypack/pkg/disk"
)

// StaticTable is an in-memory disk.TableReader keyed by image path and
// partition number.
type StaticTable map[string]map[int]disk.Range

func (t StaticTable) PartitionRange(image string, number int) (disk.Range, error) {
	parts, ok := t[image]
	if !ok {
		return disk.Range{}, fmt.Errorf("no partition table known for %s", image)
	}
	rng, ok := parts[number]
	if !ok {
		return disk.Range{}, fmt.Errorf("no partition %d in %s", number, image)
	}
	return rng, nil
}

// Add registers the partition ranges of one image.
func (t StaticTable) Add(image string, parts map[int]disk.Range) {
	t[image] = parts
}

// MakeFakeImage writes an image file at path holding the given
// partition contents back to back, each starting on a sector boundary,
// and registers the resulting ranges in the table. Partition lengths
// are the exact content lengths, so contents should be sector
// multiples when the test cares about capacity semantics.
func MakeFakeImage(path string, parts map[int][]byte, table StaticTable) error {
	// deterministic ordering by partition number
	maxNum := 0
	for num := range parts {
		if num > maxNum {
			maxNum = num
		}
	}

	ranges := make(map[int]disk.Range, len(parts))
	offset := uint64(disk.SectorSize) // keep sector 0 free for a fake PMBR

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for num := 1; num <= maxNum; num++ {
		content, ok := parts[num]
		if !ok {
			continue
		}
		if _, err := f.WriteAt(content, int64(offset)); err != nil {
			return err
		}
		length := uint64(len(content))
		ranges[num] = disk.Range{Start: offset, Length: length}
		// next partition starts on the following sector boundary
		offset += (length + disk.SectorSize - 1) / disk.SectorSize * disk.SectorSize
	}

	if table != nil {
		table.Add(path, ranges)
	}
	return f.Sync()
}

// FillSectors returns n sectors filled with the given byte.
func FillSectors(n int, b byte) []byte {
	buf := make([]byte, n*disk.SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// DirMounter fakes mount.Mounter by handing out pre-populated
// directories keyed by image path and partition number.
type DirMounter map[string]map[int]string

func (m DirMounter) WithPartition(image string, partition int, readOnly bool, fn func(dir string) error) error {
	parts, ok := m[image]
	if !ok {
		return fmt.Errorf("no mountable partitions for %s", image)
	}
	dir, ok := parts[partition]
	if !ok {
		return fmt.Errorf("cannot mount %s partition %d", image, partition)
	}
	return fn(dir)
}

// Set registers a directory serving as the filesystem of one partition.
func (m DirMounter) Set(image string, partition int, dir string) {
	if m[image] == nil {
		m[image] = make(map[int]string)
	}
	m[image][partition] = dir
}
