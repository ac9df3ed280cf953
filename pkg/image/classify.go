// Package image inspects and prepares source OS images: it classifies
// the boot-kernel variant of an image, resolves the authoritative kernel
// payload for it, and reads image identity from a mounted rootfs.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/pkg/blockdev"
	"github.com/crosutil/factorypack/pkg/disk"
)

// KernelVariant tags how an image's kernel boots. The variant decides
// which partition holds the authoritative kernel and whether its start
// must be overwritten with the boot-block file from the stateful
// partition before it is usable.
type KernelVariant uint64

const (
	VariantSSD KernelVariant = iota
	VariantUSB
	VariantRecovery
)

func (v KernelVariant) String() string {
	switch v {
	case VariantSSD:
		return "ssd"
	case VariantUSB:
		return "usb"
	case VariantRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("KernelVariant(%d)", uint64(v))
	}
}

// Vboot keyblock preamble layout. The magic sits at the start of the
// kernel partition; the flags word follows the header fields and the
// two signature descriptors.
const (
	keyblockMagic       = "CHROMEOS"
	keyblockFlagsOffset = 72
	keyblockPreambleLen = 512

	// keyblockFlagRecoverySigned marks a kernel that only boots after
	// its boot region is replaced with the hard-disk boot-block.
	keyblockFlagRecoverySigned = 1 << 3
)

func readKeyblock(tr disk.TableReader, img string, partition int) ([]byte, error) {
	rng, err := (disk.Ref{Image: img, Number: partition}).Resolve(tr)
	if err != nil {
		return nil, err
	}
	n := uint64(keyblockPreambleLen)
	if rng.Length < n {
		n = rng.Length
	}
	return blockdev.ReadRange(img, rng.Start, n)
}

func hasKeyblock(preamble []byte) bool {
	return len(preamble) >= keyblockFlagsOffset+8 &&
		bytes.HasPrefix(preamble, []byte(keyblockMagic))
}

// Classify determines the kernel variant of the image by inspecting the
// boot-loader preamble of its kernel partition. An unrecognized
// signature is fatal and names the offending image.
func Classify(tr disk.TableReader, img string) (KernelVariant, error) {
	preamble, err := readKeyblock(tr, img, disk.KernelAPartNum)
	if err != nil {
		return 0, fmt.Errorf("cannot inspect kernel partition of %s: %w", img, err)
	}
	if !hasKeyblock(preamble) {
		return 0, fmt.Errorf("unrecognized image type: %s carries no vboot keyblock on partition %d", img, disk.KernelAPartNum)
	}

	flags := binary.LittleEndian.Uint64(preamble[keyblockFlagsOffset:])
	if flags&keyblockFlagRecoverySigned == 0 {
		logrus.Debugf("%s: kernel partition is directly bootable", img)
		return VariantSSD, nil
	}

	// A recovery-signed kernel needs the boot-block patch. When the
	// true kernel lives on partition 4 the image is a recovery image,
	// otherwise a plain USB image.
	preamble, err = readKeyblock(tr, img, disk.RecoveryKernelPartNum)
	if err != nil {
		logrus.Debugf("%s: no readable partition %d (%v), classifying as usb", img, disk.RecoveryKernelPartNum, err)
		return VariantUSB, nil
	}
	if hasKeyblock(preamble) {
		return VariantRecovery, nil
	}
	return VariantUSB, nil
}
