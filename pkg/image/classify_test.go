package image

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/internal/testdisk"
	"github.com/crosutil/factorypack/pkg/disk"
)

// makeKeyblock builds one sector of kernel partition preamble with a
// valid vboot keyblock signature.
func makeKeyblock(recoverySigned bool) []byte {
	buf := make([]byte, disk.SectorSize)
	copy(buf, keyblockMagic)
	var flags uint64
	if recoverySigned {
		flags = keyblockFlagRecoverySigned
	}
	binary.LittleEndian.PutUint64(buf[keyblockFlagsOffset:], flags)
	return buf
}

func makeImage(t *testing.T, parts map[int][]byte) (string, testdisk.StaticTable) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	table := testdisk.StaticTable{}
	require.NoError(t, testdisk.MakeFakeImage(path, parts, table))
	return path, table
}

func TestClassifySSD(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		1: testdisk.FillSectors(4, 0x00),
		2: makeKeyblock(false),
		3: testdisk.FillSectors(8, 0x11),
	})

	variant, err := Classify(table, img)
	require.NoError(t, err)
	assert.Equal(t, VariantSSD, variant)
}

func TestClassifyUSB(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		1: testdisk.FillSectors(4, 0x00),
		2: makeKeyblock(true),
		4: testdisk.FillSectors(1, 0x00), // no keyblock on partition 4
	})

	variant, err := Classify(table, img)
	require.NoError(t, err)
	assert.Equal(t, VariantUSB, variant)
}

func TestClassifyUSBWithoutPartitionFour(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		2: makeKeyblock(true),
	})

	variant, err := Classify(table, img)
	require.NoError(t, err)
	assert.Equal(t, VariantUSB, variant)
}

func TestClassifyRecovery(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		2: makeKeyblock(true),
		4: makeKeyblock(false),
	})

	variant, err := Classify(table, img)
	require.NoError(t, err)
	assert.Equal(t, VariantRecovery, variant)
}

func TestClassifyUnrecognizedSignature(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		2: testdisk.FillSectors(1, 0x5a),
	})

	_, err := Classify(table, img)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unrecognized image type")
	assert.ErrorContains(t, err, img)
}

func TestClassifyMissingKernelPartition(t *testing.T) {
	img, table := makeImage(t, map[int][]byte{
		1: testdisk.FillSectors(1, 0x00),
	})

	_, err := Classify(table, img)
	require.Error(t, err)
	assert.ErrorContains(t, err, img)
}

func TestKernelVariantString(t *testing.T) {
	assert.Equal(t, "ssd", VariantSSD.String())
	assert.Equal(t, "usb", VariantUSB.String())
	assert.Equal(t, "recovery", VariantRecovery.String())
	assert.Equal(t, "KernelVariant(7)", KernelVariant(7).String())
}
