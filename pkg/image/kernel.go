package image

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/crosutil/factorypack/internal/scratch"
	"github.com/crosutil/factorypack/pkg/blockdev"
	"github.com/crosutil/factorypack/pkg/disk"
	"github.com/crosutil/factorypack/pkg/mount"
)

// BootBlockFile is the hard-disk boot-block that usb and recovery
// kernels need patched over their start. It lives at the root of the
// stateful partition's filesystem.
const BootBlockFile = "vmlinuz_hd.vblock"

// Resolver produces self-contained kernel payloads from source images.
type Resolver struct {
	Table   disk.TableReader
	Mounter mount.Mounter
	Scratch *scratch.Tracker
}

// ResolveKernel returns the authoritative kernel for the image given
// its variant. For ssd images the kernel partition itself is returned;
// usb and recovery kernels are extracted to a scratch file and patched
// with the boot-block from the stateful partition. The result is
// independent of any mount by the time it is returned, so a partial
// image can never be composed from an unresolved kernel.
func (r *Resolver) ResolveKernel(img string, variant KernelVariant) (disk.Ref, error) {
	var basePart int
	switch variant {
	case VariantSSD:
		return disk.Ref{Image: img, Number: disk.KernelAPartNum}, nil
	case VariantUSB:
		basePart = disk.KernelAPartNum
	case VariantRecovery:
		basePart = disk.RecoveryKernelPartNum
	default:
		return disk.Ref{}, fmt.Errorf("unrecognized kernel variant %v for %s", variant, img)
	}

	kernelPath, err := r.extractPartition(img, basePart)
	if err != nil {
		return disk.Ref{}, err
	}
	if err := r.patchBootBlock(img, kernelPath); err != nil {
		return disk.Ref{}, err
	}
	logrus.Infof("resolved %s kernel of %s from partition %d", variant, img, basePart)
	return disk.Ref{Image: kernelPath, Number: 0}, nil
}

func (r *Resolver) extractPartition(img string, partition int) (string, error) {
	rng, err := (disk.Ref{Image: img, Number: partition}).Resolve(r.Table)
	if err != nil {
		return "", err
	}

	path, err := r.Scratch.File("kernel-")
	if err != nil {
		return "", err
	}

	src, closeSrc, err := blockdev.Reader(img, rng.Start, rng.Length)
	if err != nil {
		return "", err
	}
	defer closeSrc()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return "", fmt.Errorf("cannot extract %s partition %d: %w", img, partition, err)
	}
	if uint64(n) != rng.Length {
		dst.Close()
		return "", fmt.Errorf("short extraction of %s partition %d: %d of %d bytes", img, partition, n, rng.Length)
	}
	return path, dst.Close()
}

// patchBootBlock overwrites the start of kernelPath with the boot-block
// bytes from the image's stateful partition, without changing the file
// length. A missing or empty boot-block file is fatal.
func (r *Resolver) patchBootBlock(img, kernelPath string) error {
	return r.Mounter.WithPartition(img, disk.StatefulPartNum, true, func(dir string) error {
		bootBlock := filepath.Join(dir, BootBlockFile)
		fi, err := os.Stat(bootBlock)
		if err != nil {
			return fmt.Errorf("boot-block file %s missing from stateful partition of %s: %w", BootBlockFile, img, err)
		}
		if fi.Size() == 0 {
			return fmt.Errorf("boot-block file %s on stateful partition of %s is empty", BootBlockFile, img)
		}

		data, err := os.ReadFile(bootBlock)
		if err != nil {
			return fmt.Errorf("cannot read boot-block of %s: %w", img, err)
		}
		if err := blockdev.WriteRange(kernelPath, 0, data); err != nil {
			return fmt.Errorf("cannot patch kernel with boot-block of %s: %w", img, err)
		}
		return nil
	})
}
