package disk

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/crosutil/factorypack/pkg/datasizes"
)

// Partition is one GPT entry of a composed target image.
type Partition struct {
	Number int
	Label  string
	Type   string // GPT partition type GUID
	UUID   string // unique partition GUID
	Start  uint64 // byte offset inside the image
	Size   uint64 // bytes

	// Boot attributes for ChromeOS kernel slots. Only honored when
	// Bootable is set.
	Bootable   bool
	Priority   int
	Tries      int
	Successful bool
}

func (p *Partition) EndExclusive() uint64 {
	return p.Start + p.Size
}

// PartitionTable is the full GPT layout of a target image.
type PartitionTable struct {
	Sectors    uint64
	Partitions []Partition
}

// Bytes returns the size of the whole image in bytes.
func (pt *PartitionTable) Bytes() uint64 {
	return pt.Sectors * SectorSize
}

// Partition returns the entry with the given number or nil.
func (pt *PartitionTable) Partition(number int) *Partition {
	for i := range pt.Partitions {
		if pt.Partitions[i].Number == number {
			return &pt.Partitions[i]
		}
	}
	return nil
}

// PartitionRange implements TableReader for a layout this process
// constructed itself, so composed targets do not need to be re-read
// through the external table reader.
func (pt *PartitionTable) PartitionRange(image string, number int) (Range, error) {
	p := pt.Partition(number)
	if p == nil {
		return Range{}, fmt.Errorf("partition %d not present in layout for %s", number, image)
	}
	return Range{Start: p.Start, Length: p.Size}, nil
}

// FactoryLayoutRequest carries the tunable sizes of a factory disk
// layout. Zero values get defaults.
type FactoryLayoutRequest struct {
	Sectors    uint64
	KernelSize uint64 // per kernel slot, bytes
	RootSize   uint64 // per rootfs slot, bytes
	OEMSize    uint64
	EFISize    uint64
}

const (
	defaultKernelSize = 16 * datasizes.MiB
	defaultRootSize   = 2 * datasizes.GiB
	defaultOEMSize    = 16 * datasizes.MiB
	defaultEFISize    = 16 * datasizes.MiB

	// firstUsableSector leaves room for the PMBR, the GPT header and
	// the entry array, rounded up to a 32 KiB alignment boundary.
	firstUsableSector = 64
	// trailingReservedSectors covers the secondary GPT at the end of
	// the image.
	trailingReservedSectors = 64
)

// NewFactoryLayout builds the target partition table for a composed
// disk or USB image. The stateful partition absorbs whatever space the
// fixed-size partitions leave over; a request that leaves it no room is
// an error. The factory kernel slot is marked bootable with full
// priority and tries so the installer runs on first boot.
func NewFactoryLayout(req FactoryLayoutRequest) (*PartitionTable, error) {
	if req.Sectors == 0 {
		req.Sectors = DefaultImageSectors
	}
	if req.KernelSize == 0 {
		req.KernelSize = defaultKernelSize
	}
	if req.RootSize == 0 {
		req.RootSize = defaultRootSize
	}
	if req.OEMSize == 0 {
		req.OEMSize = defaultOEMSize
	}
	if req.EFISize == 0 {
		req.EFISize = defaultEFISize
	}

	usable := req.Sectors * SectorSize
	overhead := uint64(firstUsableSector+trailingReservedSectors) * SectorSize
	fixed := 2*req.KernelSize + 2*req.RootSize + req.OEMSize + req.EFISize
	if usable < overhead+fixed+SectorSize {
		return nil, fmt.Errorf("image of %d sectors is too small for the factory layout (%d bytes fixed content)", req.Sectors, fixed)
	}
	stateSize := usable - overhead - fixed

	pt := &PartitionTable{Sectors: req.Sectors}
	offset := uint64(firstUsableSector) * SectorSize
	add := func(number int, label, typ string, size uint64) {
		pt.Partitions = append(pt.Partitions, Partition{
			Number: number,
			Label:  label,
			Type:   typ,
			UUID:   uuid.New().String(),
			Start:  offset,
			Size:   size,
		})
		offset += size
	}

	add(StatefulPartNum, "STATE", LinuxDataPartitionGUID, stateSize)
	add(KernelAPartNum, "KERN-A", ChromeOSKernelPartitionGUID, req.KernelSize)
	add(RootAPartNum, "ROOT-A", ChromeOSRootPartitionGUID, req.RootSize)
	add(KernelBPartNum, "KERN-B", ChromeOSKernelPartitionGUID, req.KernelSize)
	add(RootBPartNum, "ROOT-B", ChromeOSRootPartitionGUID, req.RootSize)
	add(OEMPartNum, "OEM", LinuxDataPartitionGUID, req.OEMSize)
	add(EFIPartNum, "EFI-SYSTEM", EFISystemPartitionGUID, req.EFISize)

	// Look the slot up after all appends; pointers taken mid-append can
	// go stale when the slice grows.
	kernA := pt.Partition(KernelAPartNum)
	kernA.Bootable = true
	kernA.Priority = 15
	kernA.Tries = 15
	kernA.Successful = false

	return pt, nil
}
