// Package disk models the GPT partition layout of factory images and
// the collaborators that read and write partition tables. The actual
// on-disk GPT manipulation is delegated to an external tool behind the
// TableReader and TableWriter interfaces; this package treats the
// resolved byte ranges as ground truth.
package disk

import (
	"fmt"

	"github.com/crosutil/factorypack/pkg/blockdev"
)

const (
	SectorSize = blockdev.SectorSize

	// DefaultImageSectors is the default size of a composed disk image.
	DefaultImageSectors = 31277232
)

// GPT partition type GUIDs used by the factory layout.
const (
	ChromeOSKernelPartitionGUID = "FE3A2A5D-4F32-41A7-B725-ACCC3285A309"
	ChromeOSRootPartitionGUID   = "3CB8E202-3B7E-47DD-8A3C-7FF2A13CFCEC"
	LinuxDataPartitionGUID      = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	EFISystemPartitionGUID      = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
)

// Partition numbers are a role convention shared by source images and
// composed targets, not stored metadata. Slot A carries the factory
// content, slot B the release content.
const (
	StatefulPartNum      = 1
	KernelAPartNum       = 2
	RootAPartNum         = 3
	KernelBPartNum       = 4
	RootBPartNum         = 5
	OEMPartNum           = 8
	EFIPartNum           = 12
	RecoveryKernelPartNum = 4
)

// Range is a byte range inside an image or device.
type Range struct {
	Start  uint64
	Length uint64
}

// Ref names one partition of one image. Number 0 refers to the whole
// file, which is how already-extracted payloads (a resolved kernel blob)
// enter the same code paths as live partitions.
type Ref struct {
	Image  string
	Number int
}

func (r Ref) String() string {
	if r.Number == 0 {
		return r.Image
	}
	return fmt.Sprintf("%s:part%d", r.Image, r.Number)
}

// Resolve returns the byte range of the referenced partition. It fails
// when the partition number does not exist in the image's table.
func (r Ref) Resolve(tr TableReader) (Range, error) {
	if r.Number == 0 {
		size, err := blockdev.Size(r.Image)
		if err != nil {
			return Range{}, fmt.Errorf("cannot resolve %s: %w", r, err)
		}
		return Range{Start: 0, Length: size}, nil
	}
	rng, err := tr.PartitionRange(r.Image, r.Number)
	if err != nil {
		return Range{}, fmt.Errorf("cannot resolve %s: %w", r, err)
	}
	if rng.Length == 0 {
		return Range{}, fmt.Errorf("cannot resolve %s: partition has zero length", r)
	}
	return rng, nil
}

// TableReader resolves partition numbers to byte ranges. Implementations
// are assumed correct; results are treated as ground truth.
type TableReader interface {
	PartitionRange(image string, number int) (Range, error)
}

// TableWriter installs a partition table, including the protective MBR
// boot code, onto a target image or device. The target must not be
// written to by anyone else until Install returns.
type TableWriter interface {
	Install(target string, pt *PartitionTable, pmbrCode []byte) error
}
