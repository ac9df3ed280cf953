package disk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/pkg/datasizes"
	"github.com/crosutil/factorypack/pkg/disk"
)

func TestNewFactoryLayoutDefaults(t *testing.T) {
	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{})
	require.NoError(t, err)

	assert.Equal(t, uint64(disk.DefaultImageSectors), pt.Sectors)
	require.Len(t, pt.Partitions, 7)

	// every declared role number resolves
	for _, num := range []int{1, 2, 3, 4, 5, 8, 12} {
		assert.NotNil(t, pt.Partition(num), "partition %d", num)
	}
	assert.Nil(t, pt.Partition(6))

	// partitions are laid out back to back without overlap
	var prevEnd uint64
	for i, p := range pt.Partitions {
		if i == 0 {
			assert.Equal(t, uint64(64*disk.SectorSize), p.Start)
		} else {
			assert.Equal(t, prevEnd, p.Start, "partition %d start", p.Number)
		}
		assert.NotEmpty(t, p.UUID)
		prevEnd = p.EndExclusive()
	}
	assert.LessOrEqual(t, prevEnd, pt.Bytes()-64*disk.SectorSize)

	// factory kernel slot owns the boot attributes
	kernA := pt.Partition(disk.KernelAPartNum)
	assert.True(t, kernA.Bootable)
	assert.Equal(t, 15, kernA.Priority)
	assert.Equal(t, 15, kernA.Tries)
	assert.False(t, kernA.Successful)
	assert.False(t, pt.Partition(disk.KernelBPartNum).Bootable)
}

func TestNewFactoryLayoutBootSlot(t *testing.T) {
	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{
		Sectors:    disk.DefaultImageSectors,
		KernelSize: 32 * datasizes.MiB,
	})
	require.NoError(t, err)

	for _, p := range pt.Partitions {
		if p.Number == disk.KernelAPartNum {
			assert.True(t, p.Bootable)
			assert.Equal(t, 15, p.Priority)
			assert.Equal(t, 15, p.Tries)
			assert.False(t, p.Successful)
			continue
		}
		assert.False(t, p.Bootable, "partition %d", p.Number)
		assert.Zero(t, p.Priority, "partition %d", p.Number)
	}
}

func TestNewFactoryLayoutStatefulAbsorbsRest(t *testing.T) {
	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{
		Sectors:    disk.DefaultImageSectors,
		KernelSize: 16 * datasizes.MiB,
		RootSize:   2 * datasizes.GiB,
		OEMSize:    16 * datasizes.MiB,
		EFISize:    16 * datasizes.MiB,
	})
	require.NoError(t, err)

	var total uint64
	for _, p := range pt.Partitions {
		total += p.Size
	}
	overhead := uint64(128 * disk.SectorSize)
	assert.Equal(t, pt.Bytes()-overhead, total)

	state := pt.Partition(disk.StatefulPartNum)
	fixed := 2*16*datasizes.MiB + 2*2*datasizes.GiB + 16*datasizes.MiB + 16*datasizes.MiB
	assert.Equal(t, pt.Bytes()-overhead-uint64(fixed), state.Size)
}

func TestNewFactoryLayoutTooSmall(t *testing.T) {
	_, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{Sectors: 1024})
	assert.ErrorContains(t, err, "too small for the factory layout")
}

func TestPartitionRange(t *testing.T) {
	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{})
	require.NoError(t, err)

	oem := pt.Partition(disk.OEMPartNum)
	rng, err := pt.PartitionRange("target.bin", disk.OEMPartNum)
	require.NoError(t, err)
	assert.Equal(t, disk.Range{Start: oem.Start, Length: oem.Size}, rng)

	_, err = pt.PartitionRange("target.bin", 7)
	assert.ErrorContains(t, err, "partition 7 not present")
}

func TestRefString(t *testing.T) {
	ref := disk.Ref{Image: "release.bin", Number: 4}
	assert.Equal(t, "release.bin:part4", ref.String())
}
